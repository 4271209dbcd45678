package crawler

// SchemaType is the schema.org type hint chosen for a page.
type SchemaType string

// The closed set of schema hints.
const (
	SchemaWebPage       SchemaType = "WebPage"
	SchemaAboutPage     SchemaType = "AboutPage"
	SchemaContactPage   SchemaType = "ContactPage"
	SchemaFAQPage       SchemaType = "FAQPage"
	SchemaArticle       SchemaType = "Article"
	SchemaService       SchemaType = "Service"
	SchemaProduct       SchemaType = "Product"
	SchemaOrganization  SchemaType = "Organization"
	SchemaLocalBusiness SchemaType = "LocalBusiness"
)

// SchemaTypes lists every hint in a stable order.
var SchemaTypes = []SchemaType{
	SchemaWebPage,
	SchemaAboutPage,
	SchemaContactPage,
	SchemaFAQPage,
	SchemaArticle,
	SchemaService,
	SchemaProduct,
	SchemaOrganization,
	SchemaLocalBusiness,
}

// Valid reports whether t is one of the known hints.
func (t SchemaType) Valid() bool {
	for _, known := range SchemaTypes {
		if t == known {
			return true
		}
	}
	return false
}
