package dynamics

import (
	"net/url"
	"strings"
)

// EscapeLiteral doubles single quotes so s can sit inside an OData string literal.
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// encodeQueryValue percent-encodes an OData query option value. Spaces become %20
// rather than '+', which the Web API does not accept inside $filter.
func encodeQueryValue(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// EmailFilter returns the $filter expression matching emailaddress1 exactly.
func EmailFilter(email string) string {
	return "emailaddress1 eq '" + EscapeLiteral(email) + "'"
}

// findByEmailPath builds the relative request path for a single-contact email lookup.
func findByEmailPath(email string) string {
	return "contacts?$filter=" + encodeQueryValue(EmailFilter(email)) +
		"&$select=" + strings.Join(ContactFields, ",") +
		"&$top=1"
}

// entityPath addresses a single contact by id.
func entityPath(id string) string {
	return "contacts(" + id + ")"
}

// idFromEntityID extracts the key from an OData-EntityId header such as
// https://org.crm.dynamics.com/api/data/v9.2/contacts(00000000-0000-0000-0000-000000000001).
func idFromEntityID(header string) string {
	open := strings.LastIndex(header, "(")
	end := strings.LastIndex(header, ")")
	if open < 0 || end <= open+1 {
		return ""
	}
	return header[open+1 : end]
}
