package assertion

// Type names an assertion variant on the wire.
type Type string

const (
	TypeStatusCode   Type = "status_code"
	TypeJSONPath     Type = "json_path"
	TypeResponseBody Type = "response_body"
	TypeSmartMatch   Type = "smart_match"
	TypeNode         Type = "node"
)

// NodeMode selects how a node assertion checks its subtree.
type NodeMode string

const (
	ModeAllFields    NodeMode = "all_fields"
	ModeTemplate     NodeMode = "template"
	ModeAutoGenerate NodeMode = "auto_generate"
	ModeSmart        NodeMode = "smart"
)

// Assertion is one of StatusCode, JSONPath, SmartMatch, Node or Invalid.
// The set is closed: only this package can add variants.
type Assertion interface {
	Kind() Type
	sealed()
}

// StatusCode checks the HTTP status of the response.
type StatusCode struct {
	Expected interface{}
}

// JSONPath compares the value at Path with Expected using Operator.
// Type is either json_path or response_body; both behave the same.
type JSONPath struct {
	Type     Type
	Path     string
	Operator Operator
	// RawOperator is the operator as written, kept for messages when it is unknown.
	RawOperator string
	Expected    interface{}
}

// SmartMatch finds the first key named Field anywhere in the response and
// compares it with Expected as a JSON fragment.
type SmartMatch struct {
	Field    string
	Expected interface{}
}

// Node checks a whole subtree located at Path.
type Node struct {
	Path     string
	Mode     NodeMode
	Expected map[string]interface{}
	Template map[string]interface{}

	// auto_generate
	IncludeFields []string
	ExcludeFields []string
	Check         string

	// smart
	Rules map[string]Rule
}

// Rule is a per-field check used by smart node assertions. An empty Name
// means the field only has to exist.
type Rule struct {
	Name  string
	Value interface{}
}

// Invalid stands in for an assertion that could not be parsed; it always fails.
type Invalid struct {
	Type   Type
	Reason string
}

func (StatusCode) Kind() Type { return TypeStatusCode }
func (a JSONPath) Kind() Type { return a.Type }
func (SmartMatch) Kind() Type { return TypeSmartMatch }
func (Node) Kind() Type { return TypeNode }
func (a Invalid) Kind() Type { return a.Type }
func (StatusCode) sealed() {}
func (JSONPath) sealed() {}
func (SmartMatch) sealed() {}
func (Node) sealed() {}
func (Invalid) sealed() {}

// Result is the outcome of evaluating one assertion.
type Result struct {
	Type     Type        `json:"type"`
	Path     string      `json:"path,omitempty"`
	Field    string      `json:"field,omitempty"`
	Mode     NodeMode    `json:"mode,omitempty"`
	Operator string      `json:"operator,omitempty"`
	Expected interface{} `json:"expected,omitempty"`
	Actual   interface{} `json:"actual,omitempty"`
	Passed   bool        `json:"passed"`
	Message  string      `json:"message"`
}
