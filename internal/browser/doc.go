// Package browser drives a single headless Chrome tab through chromedp.
//
// A Session starts lazily on first use and serialises everything through one
// tab. Controls are located with ranked strategies; the first strategy that
// yields a visible element wins and the element is tagged so that later
// chromedp actions can address it with a plain CSS selector. Downloads land
// in a staging directory owned by the session and are handed out as
// download.Artifact values.
package browser
