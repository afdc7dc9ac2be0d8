package headless

// stealthScript runs before any page script on every new document.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
const originalQuery = window.navigator.permissions && window.navigator.permissions.query;
if (originalQuery) {
  window.navigator.permissions.query = (parameters) =>
    parameters.name === 'notifications'
      ? Promise.resolve({ state: Notification.permission })
      : originalQuery(parameters);
}
`

// interactionScript dismisses consent overlays, scrolls through the page to
// trigger lazy loading, returns to the top, and emits a mouse move.
const interactionScript = `
(async () => {
  const sleep = (ms) => new Promise((r) => setTimeout(r, ms));
  await sleep(1000);
  const patterns = [/^accept/i, /agree/i, /allow all/i, /got it/i, /^ok$/i, /consent/i];
  const buttons = Array.from(document.querySelectorAll('button, [role="button"], input[type="button"], input[type="submit"]'));
  for (const btn of buttons) {
    const label = (btn.innerText || btn.value || '').trim();
    const rect = btn.getBoundingClientRect();
    if (!label || rect.width === 0 || rect.height === 0) continue;
    if (patterns.some((p) => p.test(label))) {
      try { btn.click(); } catch (e) {}
      await sleep(500);
      break;
    }
  }
  const step = Math.max(200, Math.floor(window.innerHeight * 0.8));
  const limit = Math.min(document.body ? document.body.scrollHeight : 0, 30000);
  for (let y = 0; y < limit; y += step) {
    window.scrollTo({ top: y, behavior: 'smooth' });
    await sleep(150 + Math.floor(Math.random() * 150));
  }
  window.scrollTo({ top: 0, behavior: 'smooth' });
  await sleep(300);
  document.dispatchEvent(new MouseEvent('mousemove', {
    clientX: 100 + Math.floor(Math.random() * 400),
    clientY: 100 + Math.floor(Math.random() * 300),
    bubbles: true,
  }));
  return true;
})()
`

const innerTextLengthScript = `document.body ? document.body.innerText.length : 0`
