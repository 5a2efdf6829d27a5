package chrome

import (
	"encoding/json"
	"fmt"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// jsString encodes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// findJS returns an expression that evaluates to the element or null.
func findJS(sel flow.Selector) string {
	q := jsString(sel.Query())
	switch sel.Strategy() {
	case flow.StrategyXPath:
		return fmt.Sprintf("document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", q)
	case flow.StrategyID:
		return fmt.Sprintf("document.getElementById(%s)", q)
	default:
		return fmt.Sprintf("document.querySelector(%s)", q)
	}
}

func centerJS(sel flow.Selector) string {
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) return {found: false, x: 0, y: 0};
  const r = el.getBoundingClientRect();
  return {found: true, x: r.left + r.width / 2, y: r.top + r.height / 2};
})()`, findJS(sel))
}

func selectOptionJS(sel flow.Selector, value string) string {
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el || !el.options) return false;
  const v = %s;
  const opt = Array.from(el.options).find(o => o.value === v || o.text.trim() === v);
  if (!opt) return false;
  el.value = opt.value;
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;
})()`, findJS(sel), jsString(value))
}

func setCheckedJS(sel flow.Selector, checked bool) string {
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) return false;
  if (el.checked !== %t) el.click();
  return el.checked === %t;
})()`, findJS(sel), checked, checked)
}

func scrollJS(x, y int, smooth bool) string {
	behavior := "instant"
	if smooth {
		behavior = "smooth"
	}
	return fmt.Sprintf(`(() => { window.scrollBy({left: %d, top: %d, behavior: %q}); return true; })()`, x, y, behavior)
}

// highlightJS outlines the element in red on a yellow background, or
// restores the saved style when on is false.
func highlightJS(sel flow.Selector, on bool) string {
	if on {
		return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) return false;
  el.scrollIntoView({block: 'center', behavior: 'smooth'});
  el.dataset.scrOutline = el.style.outline;
  el.dataset.scrBackground = el.style.backgroundColor;
  el.style.outline = '3px solid #ff0000';
  el.style.backgroundColor = 'rgba(255, 255, 0, 0.3)';
  return true;
})()`, findJS(sel))
	}
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) return false;
  el.style.outline = el.dataset.scrOutline || '';
  el.style.backgroundColor = el.dataset.scrBackground || '';
  delete el.dataset.scrOutline;
  delete el.dataset.scrBackground;
  return true;
})()`, findJS(sel))
}

// html5DragJS fires the HTML5 drag and drop sequence. Mouse events alone do
// not trigger it.
func html5DragJS(src, dst flow.Selector) string {
	return fmt.Sprintf(`(() => {
  const from = %s, to = %s;
  if (!from || !to || !from.draggable) return false;
  const dt = new DataTransfer();
  const fire = (el, type) => el.dispatchEvent(new DragEvent(type, {bubbles: true, cancelable: true, dataTransfer: dt}));
  fire(from, 'dragstart');
  fire(to, 'dragenter');
  fire(to, 'dragover');
  fire(to, 'drop');
  fire(from, 'dragend');
  return true;
})()`, findJS(src), findJS(dst))
}
