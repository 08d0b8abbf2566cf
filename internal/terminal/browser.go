package terminal

import (
	"fmt"
	"net/url"

	"github.com/pkg/browser"
)

var browserOpenURL = browser.OpenURL

// OpenURL opens an http(s) link in the default browser.
func OpenURL(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("refusing to open %q url", u.Scheme)
	}
	return browserOpenURL(link)
}
