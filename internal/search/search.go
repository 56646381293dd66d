package search

// Result is a single search hit returned to the admin console.
type Result struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Snippet      string `json:"snippet"`
	DocumentType string `json:"documentType"`
	IsURL        bool   `json:"isUrl"`
	CompanyName  string `json:"companyName,omitempty"`
}

// Query describes a document search request.
type Query struct {
	Text          string
	FilterDocType string // empty = all document types
	FilterCompany string // company id, empty = all companies
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a document search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	DocumentType string   `json:"documentType"`
	IsURL        bool     `json:"isUrl"`
	Excerpt      string   `json:"excerpt"`
	Source       string   `json:"source"`
	CompanyIDs   []string `json:"companyIds"`
	CompanyName  string   `json:"companyName"`
}
