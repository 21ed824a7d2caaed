package trajectory

import (
	"strings"

	"github.com/joelkehle/adoption-trajectory/internal/signal"
)

type peripheralCategory struct {
	name     string
	keywords []string
}

// peripheralCategories is checked in order; the first match names the
// category.
var peripheralCategories = []peripheralCategory{
	{"SSO / Auth", []string{
		"sso", "saml", "ldap", "oauth", "openid", "authentication",
		"login", "sign-in", "sign in", "mfa", "2fa", "two-factor",
		"password", "credential", "single sign",
	}},
	{"Billing", []string{
		"billing", "invoice", "payment", "subscription", "license",
		"pricing", "renewal", "charge", "cost", "quota", "plan upgrade",
		"plan downgrade",
	}},
	{"Access / Permissions", []string{
		"permission", "access control", "rbac", "role", "privilege",
		"authorization", "forbidden", "access denied", "user management",
		"provisioning", "scim", "directory sync", "user access",
	}},
	{"Compliance", []string{
		"compliance", "audit", "gdpr", "soc2", "soc 2", "hipaa",
		"certification", "data retention", "privacy policy",
		"security review",
	}},
}

// eventText joins the non-empty title and body, lower-cased.
func eventText(e *signal.Event) string {
	parts := make([]string, 0, 2)
	if e.Title != "" {
		parts = append(parts, e.Title)
	}
	if e.Body != "" {
		parts = append(parts, e.Body)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// ClassifyEffort reports whether e is peripheral overhead (auth, billing,
// access, compliance) and which category matched. Signals without text are
// core.
func ClassifyEffort(e *signal.Event) (peripheral bool, category string) {
	text := eventText(e)
	if text == "" {
		return false, ""
	}
	for _, cat := range peripheralCategories {
		for _, kw := range cat.keywords {
			if strings.Contains(text, kw) {
				return true, cat.name
			}
		}
	}
	return false, ""
}
