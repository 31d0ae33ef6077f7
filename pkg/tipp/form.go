package tipp

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// parseForm collects what a browser would submit for the form, minus the
// clicked button: enabled inputs, checked boxes, selected options and textareas
func parseForm(form *goquery.Selection, pageURL string) *Form {
	f := &Form{
		Action: resolveAction(pageURL, attr(form, "action")),
		Method: strings.ToUpper(strings.TrimSpace(attr(form, "method"))),
		Fields: url.Values{},
	}
	if f.Method == "" {
		f.Method = http.MethodGet
	}

	form.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		name := attr(s, "name")
		if name == "" || hasAttr(s, "disabled") {
			return
		}
		switch goquery.NodeName(s) {
		case "textarea":
			f.Fields.Add(name, s.Text())
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			if opt.Length() == 0 {
				return
			}
			if v, ok := opt.Attr("value"); ok {
				f.Fields.Add(name, v)
			} else {
				f.Fields.Add(name, collapse(opt.Text()))
			}
		default:
			typ := strings.ToLower(strings.TrimSpace(attr(s, "type")))
			switch typ {
			case "submit", "button", "image", "reset", "file":
				return
			case "checkbox", "radio":
				if !hasAttr(s, "checked") {
					return
				}
				v, ok := s.Attr("value")
				if !ok {
					v = "on"
				}
				f.Fields.Add(name, v)
			default:
				f.Fields.Add(name, attr(s, "value"))
			}
		}
	})

	submit := form.Find(`input[type="submit"][name], button[name]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
		if goquery.NodeName(s) == "button" {
			t := strings.ToLower(attr(s, "type"))
			return t == "" || t == "submit"
		}
		return true
	}).First()
	if submit.Length() > 0 {
		v, ok := submit.Attr("value")
		if !ok {
			v = collapse(submit.Text())
		}
		f.Submit = &Field{Name: attr(submit, "name"), Value: v}
	}
	return f
}

func resolveAction(pageURL, action string) string {
	action = strings.TrimSpace(action)
	base, err := url.Parse(pageURL)
	if err != nil || pageURL == "" {
		return action
	}
	if action == "" {
		return base.String()
	}
	ref, err := url.Parse(action)
	if err != nil {
		return action
	}
	return base.ResolveReference(ref).String()
}

// Fill builds the request body: the form fields unchanged, the goals of
// preds written into their rows and the submit button appended
func (f *Form) Fill(rows []Row, preds []Prediction) url.Values {
	out := url.Values{}
	for k, vs := range f.Fields {
		out[k] = append([]string(nil), vs...)
	}
	byIndex := make(map[int]Row, len(rows))
	for _, r := range rows {
		byIndex[r.Index] = r
	}
	for _, p := range preds {
		r, ok := byIndex[p.RowIndex]
		if !ok {
			continue
		}
		out.Set(r.HomeField, strconv.Itoa(p.HomeGoals))
		out.Set(r.AwayField, strconv.Itoa(p.AwayGoals))
	}
	if f.Submit != nil && f.Submit.Name != "" {
		out.Set(f.Submit.Name, f.Submit.Value)
	}
	return out
}
