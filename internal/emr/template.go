package emr

// TemplateShape identifies which of the documented layouts a template entry uses.
type TemplateShape int

const (
	ShapeUnknown TemplateShape = iota
	// ShapeSectionsFormsData is {sections:[{label, forms:[{data}]}]}.
	ShapeSectionsFormsData
	// ShapeFormsData is {forms:[{data}]}.
	ShapeFormsData
	// ShapeDirectData is {data}.
	ShapeDirectData
)

func (s TemplateShape) String() string {
	switch s {
	case ShapeSectionsFormsData:
		return "sections-forms-data"
	case ShapeFormsData:
		return "forms-data"
	case ShapeDirectData:
		return "direct-data"
	default:
		return "unknown"
	}
}

// classifyTemplate resolves the shape of a single template entry. Keys are
// checked in the order sections, forms, data: the first one present wins.
func classifyTemplate(entry interface{}) (map[string]interface{}, TemplateShape) {
	m, ok := entry.(map[string]interface{})
	if !ok {
		return nil, ShapeUnknown
	}
	if _, ok := m["sections"]; ok {
		return m, ShapeSectionsFormsData
	}
	if _, ok := m["forms"]; ok {
		return m, ShapeFormsData
	}
	if _, ok := m["data"]; ok {
		return m, ShapeDirectData
	}
	return m, ShapeUnknown
}

// groupSpec describes how one EMR group (history or examination) names its
// templates and section labels.
type groupSpec struct {
	name            string
	templateKeys    []string
	labelKeys       []string
	defaultLabel    string
	normalizeLabels bool
}

var (
	historySpec = groupSpec{
		name:         "history",
		templateKeys: []string{"templates", "templetes"},
		labelKeys:    []string{"section_name", "sectionname"},
		defaultLabel: "History",
	}
	examinationSpec = groupSpec{
		name:            "examination",
		templateKeys:    []string{"templetes", "templates"},
		labelKeys:       []string{"sectionname", "section_name"},
		defaultLabel:    "General",
		normalizeLabels: true,
	}
)

// labeledGroup is one data group together with the label its findings carry.
type labeledGroup struct {
	label string
	data  interface{}
}

// walkTemplates flattens a group container into labeled data groups in input
// order. Entries that match none of the documented shapes are skipped without
// an audit entry; only a container that is not an object, or whose template
// list is not a list, is reported.
func walkTemplates(container interface{}, spec groupSpec, audit *Audit) []labeledGroup {
	if isBlank(container) {
		return nil
	}
	root, ok := container.(map[string]interface{})
	if !ok {
		audit.warn("%s: expected an object, got %s", spec.name, describe(container))
		return nil
	}
	raw, ok := lookup(root, spec.templateKeys...)
	if !ok || raw == nil {
		return nil
	}
	templates, ok := raw.([]interface{})
	if !ok {
		audit.warn("%s: templates is %s, expected a list", spec.name, describe(raw))
		return nil
	}

	var groups []labeledGroup
	for _, entry := range templates {
		tmpl, shape := classifyTemplate(entry)
		switch shape {
		case ShapeSectionsFormsData:
			for _, sec := range asList(tmpl["sections"]) {
				section, ok := sec.(map[string]interface{})
				if !ok {
					continue
				}
				label := spec.sectionLabel(section)
				for _, form := range formsOf(section) {
					groups = append(groups, labeledGroup{label: label, data: form["data"]})
				}
			}
		case ShapeFormsData:
			for _, form := range formsOf(tmpl) {
				groups = append(groups, labeledGroup{label: spec.defaultLabel, data: form["data"]})
			}
		case ShapeDirectData:
			groups = append(groups, labeledGroup{label: spec.defaultLabel, data: tmpl["data"]})
		}
	}
	return groups
}

func (spec groupSpec) sectionLabel(section map[string]interface{}) string {
	raw, _ := lookup(section, spec.labelKeys...)
	label, _ := scalarText(raw)
	if spec.normalizeLabels {
		return NormalizeLabel(label, spec.defaultLabel)
	}
	if label = cleanText(label); label == "" {
		return spec.defaultLabel
	}
	return label
}

func formsOf(m map[string]interface{}) []map[string]interface{} {
	var forms []map[string]interface{}
	for _, f := range asList(m["forms"]) {
		if form, ok := f.(map[string]interface{}); ok {
			forms = append(forms, form)
		}
	}
	return forms
}

func asList(v interface{}) []interface{} {
	l, _ := v.([]interface{})
	return l
}
