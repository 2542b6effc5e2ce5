// File: internal/browser/scripts.go
package browser

import "fmt"

// The evaluate_script tool takes a zero-argument arrow function and returns
// its result embedded in the response text. Selectors and values are injected
// as JSON string literals so arbitrary plan text cannot break out of the
// script.

func jsString(s string) string {
	raw, _ := codec.Marshal(s)
	return string(raw)
}

// readinessScript reports the document load state. Navigation is considered
// settled once a body exists and readyState is interactive or complete.
const readinessScript = `() => {
  const readyState = document.readyState || 'loading';
  const hasBody = Boolean(document.body);
  return {ok: hasBody && (readyState === 'interactive' || readyState === 'complete'), readyState, hasBody};
}`

// buildClickScript resolves the selector to a visible clickable element and
// clicks it. The selector is tried as CSS first, then as a text match over
// common clickable elements.
func buildClickScript(selector string) string {
	return fmt.Sprintf(`() => {
  const target = %s;
  const normalized = String(target || '').trim();
  if (!normalized) return {ok: false, reason: 'empty selector'};
  const clickable = 'button, a, [role="button"], input[type="submit"], input[type="button"], summary';
  const isVisible = (node) => {
    if (!node) return false;
    const rect = node.getBoundingClientRect();
    if (!rect || rect.width <= 1 || rect.height <= 1) return false;
    const style = window.getComputedStyle(node);
    return style && style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
  };
  const asClickable = (node) => {
    if (!node) return null;
    if (node.matches && node.matches(clickable)) return node;
    if (node.closest) { const parent = node.closest(clickable); if (parent) return parent; }
    if (node.querySelector) { const child = node.querySelector(clickable); if (child) return child; }
    return null;
  };
  let candidates = [];
  try { candidates = Array.from(document.querySelectorAll(normalized)).map(asClickable); } catch (_) {}
  if (!candidates.some(Boolean)) {
    const needle = normalized.toLowerCase();
    candidates = Array.from(document.querySelectorAll(clickable)).filter((node) => {
      const text = (node.innerText || node.textContent || node.getAttribute('aria-label') || node.title || node.value || '').toLowerCase();
      return text.includes(needle);
    });
  }
  const el = candidates.filter(Boolean).find(isVisible);
  if (!el) return {ok: false, reason: 'no clickable element found'};
  el.scrollIntoView({block: 'center', inline: 'center'});
  el.click();
  return {ok: true, tag: String(el.tagName || '').toLowerCase(), text: (el.innerText || el.textContent || '').trim().slice(0, 120)};
}`, jsString(selector))
}

// buildTypeScript resolves the selector to an editable element, fills it, and
// fires the input/change events frameworks listen for.
func buildTypeScript(selector, value string) string {
	return fmt.Sprintf(`() => {
  const selector = %s;
  const value = %s;
  const normalized = String(selector || '').trim();
  let el = null;
  if (normalized) {
    try { el = document.querySelector(normalized); } catch (_) {}
  }
  const editable = Array.from(document.querySelectorAll('textarea, input[type="search"], input[type="text"], input:not([type]), [contenteditable="true"], [role="textbox"], [role="searchbox"]'));
  if (!el && normalized) {
    const needle = normalized.toLowerCase();
    el = editable.find((node) => {
      const blob = [node.name, node.placeholder, node.getAttribute('aria-label'), node.title, node.id].filter(Boolean).join(' ').toLowerCase();
      return blob.includes(needle);
    });
  }
  if (!el) {
    el = editable.find((node) => !node.disabled && node.getAttribute('type') !== 'hidden') || null;
  }
  if (!el) return {ok: false, reason: 'no editable element found'};
  el.focus();
  if ('value' in el) {
    el.value = value;
    el.dispatchEvent(new Event('input', {bubbles: true}));
    el.dispatchEvent(new Event('change', {bubbles: true}));
  } else {
    el.textContent = value;
  }
  return {ok: true};
}`, jsString(selector), jsString(value))
}
