package services

import (
	"fmt"
	"strings"
)

// FieldKind classifies a fillable form control.
type FieldKind string

const (
	FieldText       FieldKind = "text"
	FieldSelect     FieldKind = "select"
	FieldRadioGroup FieldKind = "radio_group"
	FieldCheckbox   FieldKind = "checkbox"
	FieldFile       FieldKind = "file"
)

// FieldDescriptor describes one fillable control found on the page.
// Unlabeled controls keep an empty Label so the mapper can still reach
// them through name, id and placeholder.
type FieldDescriptor struct {
	Index       int       `json:"index"`
	Kind        FieldKind `json:"kind"`
	Label       string    `json:"label"`
	Name        string    `json:"name,omitempty"`
	ID          string    `json:"id,omitempty"`
	InputType   string    `json:"inputType,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Required    bool      `json:"required"`
	Options     []string  `json:"options,omitempty"`

	// domIndexes addresses the live elements behind this field: one
	// entry for scalar controls, one per option for radio groups. The
	// collect script tags every control with the matching attribute.
	domIndexes []int
}

// MatchText returns the searchable text of the field, lowercased. The
// mapper runs its keyword table against this.
func (f FieldDescriptor) MatchText() string {
	parts := []string{f.Label, f.Name, f.ID, f.Placeholder}
	return strings.ToLower(strings.Join(parts, " "))
}

// FormFieldInventory is the ordered list of fillable controls on an
// application page, in DOM order.
type FormFieldInventory struct {
	JobURL string            `json:"jobUrl"`
	Fields []FieldDescriptor `json:"fields"`
}

func (inv *FormFieldInventory) Len() int {
	return len(inv.Fields)
}

func (inv *FormFieldInventory) RequiredCount() int {
	count := 0
	for _, f := range inv.Fields {
		if f.Required {
			count++
		}
	}
	return count
}

// fieldTagAttr marks each collected control in the live DOM so a field
// descriptor can be resolved back to its element later.
const fieldTagAttr = "data-apl-field"

// fieldSelector addresses one tagged control.
func fieldSelector(domIndex int) string {
	return fmt.Sprintf("[%s=\"%d\"]", fieldTagAttr, domIndex)
}

// rawControl mirrors the objects collectControlsScript builds in the
// page. Field names must stay in sync with the script.
type rawControl struct {
	DomIndex      int      `json:"domIndex"`
	Tag           string   `json:"tag"`
	Type          string   `json:"type"`
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	AriaLabel     string   `json:"ariaLabel"`
	Placeholder   string   `json:"placeholder"`
	Required      bool     `json:"required"`
	Disabled      bool     `json:"disabled"`
	Value         string   `json:"value"`
	LabelFor      string   `json:"labelFor"`
	SiblingText   string   `json:"siblingText"`
	ContainerText string   `json:"containerText"`
	Legend        string   `json:"legend"`
	Options       []string `json:"options"`
	Visible       bool     `json:"visible"`
}

// collectControlsScript walks the live DOM and reports every input,
// select and textarea together with the label candidates the analyzer
// ranks on the Go side.
const collectControlsScript = `() => {
	const controls = [];
	const isVisible = (el) => {
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	};
	const labelFor = (el) => {
		if (el.id) {
			const lab = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (lab) return (lab.innerText || lab.textContent || '').trim();
		}
		const wrap = el.closest('label');
		if (wrap) return (wrap.innerText || wrap.textContent || '').trim();
		return '';
	};
	const siblingText = (el) => {
		let node = el.previousElementSibling;
		for (let i = 0; node && i < 3; i++) {
			const text = (node.innerText || node.textContent || '').trim();
			if (text) return text;
			node = node.previousElementSibling;
		}
		return '';
	};
	const containerText = (el) => {
		const parent = el.closest('div, fieldset, li, td');
		if (!parent) return '';
		return (parent.innerText || '').trim().slice(0, 200);
	};
	const legendText = (el) => {
		const fs = el.closest('fieldset');
		if (fs) {
			const legend = fs.querySelector('legend');
			if (legend) return (legend.innerText || '').trim();
		}
		const group = el.closest('[role="radiogroup"]');
		if (group) return group.getAttribute('aria-label') || '';
		return '';
	};
	document.querySelectorAll('input, select, textarea').forEach((el) => {
		const tag = el.tagName.toLowerCase();
		const type = (el.getAttribute('type') || '').toLowerCase();
		const options = [];
		if (tag === 'select') {
			for (const opt of el.options) {
				const text = (opt.label || opt.text || '').trim();
				if (text) options.push(text);
			}
		}
		el.setAttribute('data-apl-field', String(controls.length));
		controls.push({
			domIndex: controls.length,
			tag: tag,
			type: type,
			id: el.id || '',
			name: el.getAttribute('name') || '',
			ariaLabel: el.getAttribute('aria-label') || '',
			placeholder: el.getAttribute('placeholder') || '',
			required: el.required === true || el.getAttribute('aria-required') === 'true',
			disabled: el.disabled === true,
			value: el.getAttribute('value') || '',
			labelFor: labelFor(el),
			siblingText: siblingText(el),
			containerText: containerText(el),
			legend: legendText(el),
			options: options,
			visible: isVisible(el),
		});
	});
	return controls;
}`

// FormAnalyzer turns raw page controls into a FormFieldInventory.
type FormAnalyzer struct{}

func NewFormAnalyzer() *FormAnalyzer {
	return &FormAnalyzer{}
}

// BuildInventory classifies controls, resolves labels and groups radio
// buttons by name. It never fails; a page with nothing fillable yields
// an empty inventory.
func (a *FormAnalyzer) BuildInventory(jobURL string, controls []rawControl) *FormFieldInventory {
	inventory := &FormFieldInventory{JobURL: jobURL}

	radioGroups := map[string]int{}

	for _, control := range controls {
		if control.Disabled {
			continue
		}

		switch control.Tag {
		case "select":
			if !control.Visible {
				continue
			}
			inventory.Fields = append(inventory.Fields, FieldDescriptor{
				Index:       len(inventory.Fields),
				Kind:        FieldSelect,
				Label:       pickLabel(control),
				Name:        control.Name,
				ID:          control.ID,
				Required:    control.Required,
				Options:     control.Options,
				Placeholder: control.Placeholder,
				domIndexes:  []int{control.DomIndex},
			})

		case "textarea":
			if !control.Visible {
				continue
			}
			inventory.Fields = append(inventory.Fields, FieldDescriptor{
				Index:       len(inventory.Fields),
				Kind:        FieldText,
				Label:       pickLabel(control),
				Name:        control.Name,
				ID:          control.ID,
				InputType:   "textarea",
				Placeholder: control.Placeholder,
				Required:    control.Required,
				domIndexes:  []int{control.DomIndex},
			})

		case "input":
			switch control.Type {
			case "hidden", "submit", "button", "reset", "image":
				continue

			case "radio":
				key := control.Name
				if key == "" {
					key = "radio_" + control.ID
				}
				optionLabel := pickOptionLabel(control)
				if groupIndex, exists := radioGroups[key]; exists {
					field := &inventory.Fields[groupIndex]
					field.Options = append(field.Options, optionLabel)
					field.domIndexes = append(field.domIndexes, control.DomIndex)
					if field.Label == "" {
						field.Label = cleanLabel(control.Legend)
					}
					continue
				}
				groupLabel := cleanLabel(control.Legend)
				if groupLabel == "" {
					groupLabel = cleanLabel(firstLine(control.ContainerText))
				}
				radioGroups[key] = len(inventory.Fields)
				inventory.Fields = append(inventory.Fields, FieldDescriptor{
					Index:      len(inventory.Fields),
					Kind:       FieldRadioGroup,
					Label:      groupLabel,
					Name:       control.Name,
					ID:         control.ID,
					Required:   control.Required,
					Options:    []string{optionLabel},
					domIndexes: []int{control.DomIndex},
				})

			case "checkbox":
				if !control.Visible {
					continue
				}
				inventory.Fields = append(inventory.Fields, FieldDescriptor{
					Index:      len(inventory.Fields),
					Kind:       FieldCheckbox,
					Label:      pickLabel(control),
					Name:       control.Name,
					ID:         control.ID,
					Required:   control.Required,
					domIndexes: []int{control.DomIndex},
				})

			case "file":
				// File inputs are routinely display:none behind a
				// styled button, so visibility does not exclude them.
				inventory.Fields = append(inventory.Fields, FieldDescriptor{
					Index:      len(inventory.Fields),
					Kind:       FieldFile,
					Label:      pickLabel(control),
					Name:       control.Name,
					ID:         control.ID,
					Required:   control.Required,
					domIndexes: []int{control.DomIndex},
				})

			default:
				if !control.Visible {
					continue
				}
				inputType := control.Type
				if inputType == "" {
					inputType = "text"
				}
				inventory.Fields = append(inventory.Fields, FieldDescriptor{
					Index:       len(inventory.Fields),
					Kind:        FieldText,
					Label:       pickLabel(control),
					Name:        control.Name,
					ID:          control.ID,
					InputType:   inputType,
					Placeholder: control.Placeholder,
					Required:    control.Required,
					domIndexes:  []int{control.DomIndex},
				})
			}
		}
	}

	return inventory
}

// pickLabel resolves the display label for a control. Priority order:
// associated <label>, aria-label, placeholder, preceding sibling text,
// then the enclosing container's text.
func pickLabel(control rawControl) string {
	if label := cleanLabel(control.LabelFor); label != "" {
		return label
	}
	if label := cleanLabel(control.AriaLabel); label != "" {
		return label
	}
	if label := cleanLabel(control.Placeholder); label != "" {
		return label
	}
	if label := cleanLabel(control.SiblingText); label != "" {
		return label
	}
	return cleanLabel(firstLine(control.ContainerText))
}

// pickOptionLabel resolves the label of a single radio button, falling
// back to its value attribute.
func pickOptionLabel(control rawControl) string {
	if label := cleanLabel(control.LabelFor); label != "" {
		return label
	}
	if label := cleanLabel(control.AriaLabel); label != "" {
		return label
	}
	if label := cleanLabel(control.SiblingText); label != "" {
		return label
	}
	return strings.TrimSpace(control.Value)
}

// cleanLabel collapses whitespace and strips required-marker noise.
func cleanLabel(text string) string {
	text = strings.ReplaceAll(text, "*", " ")
	text = strings.ReplaceAll(text, "✱", " ")
	fields := strings.Fields(text)
	cleaned := strings.Join(fields, " ")
	if len(cleaned) > 160 {
		cleaned = cleaned[:160]
	}
	return strings.TrimSpace(cleaned)
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}
