package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrControlNotFound is returned when no strategy matched a visible element
var ErrControlNotFound = errors.New("browser: no candidate matched a visible control")

// HandleAttr tags elements resolved by FindControl
const HandleAttr = "data-harvest-handle"

// Kind selects how a Strategy locates an element
type Kind string

const (
	KindRoleButton  Kind = "role_button"
	KindRoleLink    Kind = "role_link"
	KindText        Kind = "text"
	KindLabel       Kind = "label"
	KindPlaceholder Kind = "placeholder"
	KindCSS         Kind = "css"
	KindCSSNth      Kind = "css_nth"
	KindWithin      Kind = "within"
)

// Strategy is one way of finding a control. For the name based kinds Value
// is a case-insensitive regular expression; for the css kinds and within it
// is a CSS selector.
type Strategy struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
	// Child is the selector searched inside the container for KindWithin
	Child string `json:"child,omitempty"`
	// Index picks the nth match for KindCSSNth and KindWithin
	Index int `json:"index"`
}

func (s Strategy) String() string {
	switch s.Kind {
	case KindCSSNth:
		return fmt.Sprintf("%s:%s[%d]", s.Kind, s.Value, s.Index)
	case KindWithin:
		return fmt.Sprintf("%s:%s>%s[%d]", s.Kind, s.Value, s.child(), s.Index)
	default:
		return string(s.Kind) + ":" + s.Value
	}
}

func (s Strategy) child() string {
	if s.Child == "" {
		return "input"
	}
	return s.Child
}

func RoleButton(pattern string) Strategy  { return Strategy{Kind: KindRoleButton, Value: pattern} }
func RoleLink(pattern string) Strategy    { return Strategy{Kind: KindRoleLink, Value: pattern} }
func Text(pattern string) Strategy        { return Strategy{Kind: KindText, Value: pattern} }
func Label(pattern string) Strategy       { return Strategy{Kind: KindLabel, Value: pattern} }
func Placeholder(pattern string) Strategy { return Strategy{Kind: KindPlaceholder, Value: pattern} }
func CSS(selector string) Strategy        { return Strategy{Kind: KindCSS, Value: selector} }

// CSSNth matches the index-th element for selector
func CSSNth(selector string, index int) Strategy {
	return Strategy{Kind: KindCSSNth, Value: selector, Index: index}
}

// Within matches the index-th child of the first container
func Within(container, child string, index int) Strategy {
	return Strategy{Kind: KindWithin, Value: container, Child: child, Index: index}
}

// Control is an element resolved by FindControl
type Control struct {
	Selector string
	Strategy Strategy
}

func (c Control) String() string {
	return c.Strategy.String()
}

// resolveScript tags the first visible element matched by a strategy.
// It returns false when nothing matched or the selector was invalid.
const resolveScript = `(function(s, handle, attr) {
	const visible = el => !!(el && (el.offsetWidth || el.offsetHeight || el.getClientRects().length));
	const norm = t => (t || '').replace(/\s+/g, ' ').trim();
	let re = null;
	try { re = new RegExp(s.value, 'i'); } catch (e) { re = null; }
	const named = el => {
		if (!re) return false;
		const name = norm(el.getAttribute('aria-label') || el.innerText || el.value || el.title);
		return re.test(name);
	};
	const all = sel => { try { return Array.from(document.querySelectorAll(sel)); } catch (e) { return []; } };
	let found = [];
	switch (s.kind) {
	case 'role_button':
		found = all('button, [role=button], input[type=button], input[type=submit]').filter(named);
		break;
	case 'role_link':
		found = all('a, [role=link]').filter(named);
		break;
	case 'text':
		found = all('body *').filter(el => re && el.children.length === 0 && re.test(norm(el.innerText || el.value)));
		break;
	case 'label':
		all('label').filter(l => re && re.test(norm(l.innerText))).forEach(l => {
			const el = l.control || (l.htmlFor && document.getElementById(l.htmlFor)) || l.querySelector('input, select, textarea');
			if (el) found.push(el);
		});
		found = found.concat(all('input[aria-label], select[aria-label], textarea[aria-label]').filter(el => re && re.test(el.getAttribute('aria-label'))));
		break;
	case 'placeholder':
		found = all('[placeholder]').filter(el => re && re.test(el.getAttribute('placeholder')));
		break;
	case 'css':
		found = all(s.value);
		break;
	case 'css_nth': {
		const el = all(s.value).filter(visible)[s.index];
		found = el ? [el] : [];
		break;
	}
	case 'within': {
		let container = null;
		try { container = document.querySelector(s.value); } catch (e) { container = null; }
		if (container) {
			const el = Array.from(container.querySelectorAll(s.child || 'input')).filter(visible)[s.index];
			found = el ? [el] : [];
		}
		break;
	}
	}
	const el = found.find(visible);
	if (!el) return false;
	el.setAttribute(attr, handle);
	return true;
})(%s, %s, %s)`

func resolveExpression(s Strategy, handle string) (string, error) {
	strategy, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	h, _ := json.Marshal(handle)
	a, _ := json.Marshal(HandleAttr)
	return fmt.Sprintf(resolveScript, strategy, h, a), nil
}

func handleSelector(handle string) string {
	return fmt.Sprintf(`[%s="%s"]`, HandleAttr, strings.ReplaceAll(handle, `"`, ``))
}

// Describe lists strategies for log attributes
func Describe(strategies []Strategy) string {
	parts := make([]string, len(strategies))
	for i, s := range strategies {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}
