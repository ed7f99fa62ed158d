package openapi

// Raw document model. Schema values stay untyped so unknown constructs flow
// into the resolver instead of failing the decode.

type rawDocument struct {
	OpenAPI    string                 `json:"openapi" yaml:"openapi"`
	Info       rawInfo                `json:"info" yaml:"info"`
	Servers    []rawServer            `json:"servers" yaml:"servers"`
	Paths      map[string]rawPathItem `json:"paths" yaml:"paths"`
	Components *rawComponents         `json:"components" yaml:"components"`
	Security   []map[string][]string  `json:"security" yaml:"security"`
}

type rawInfo struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Version     string `json:"version" yaml:"version"`
}

type rawServer struct {
	URL string `json:"url" yaml:"url"`
}

type rawPathItem struct {
	Get        *rawOperation  `json:"get" yaml:"get"`
	Post       *rawOperation  `json:"post" yaml:"post"`
	Put        *rawOperation  `json:"put" yaml:"put"`
	Delete     *rawOperation  `json:"delete" yaml:"delete"`
	Patch      *rawOperation  `json:"patch" yaml:"patch"`
	Parameters []rawParameter `json:"parameters" yaml:"parameters"`
}

type rawOperation struct {
	OperationID string          `json:"operationId" yaml:"operationId"`
	Summary     string          `json:"summary" yaml:"summary"`
	Description string          `json:"description" yaml:"description"`
	Deprecated  bool            `json:"deprecated" yaml:"deprecated"`
	Parameters  []rawParameter  `json:"parameters" yaml:"parameters"`
	RequestBody *rawRequestBody `json:"requestBody" yaml:"requestBody"`
}

type rawParameter struct {
	Ref         string         `json:"$ref" yaml:"$ref"`
	Name        string         `json:"name" yaml:"name"`
	In          string         `json:"in" yaml:"in"`
	Required    bool           `json:"required" yaml:"required"`
	Description string         `json:"description" yaml:"description"`
	Schema      map[string]any `json:"schema" yaml:"schema"`
}

type rawRequestBody struct {
	Required bool                `json:"required" yaml:"required"`
	Content  map[string]rawMedia `json:"content" yaml:"content"`
}

type rawMedia struct {
	Schema map[string]any `json:"schema" yaml:"schema"`
}

type rawComponents struct {
	Schemas         map[string]any               `json:"schemas" yaml:"schemas"`
	Parameters      map[string]rawParameter      `json:"parameters" yaml:"parameters"`
	SecuritySchemes map[string]rawSecurityScheme `json:"securitySchemes" yaml:"securitySchemes"`
}

type rawSecurityScheme struct {
	Type         string `json:"type" yaml:"type"`
	Scheme       string `json:"scheme" yaml:"scheme"`
	Name         string `json:"name" yaml:"name"`
	In           string `json:"in" yaml:"in"`
	BearerFormat string `json:"bearerFormat" yaml:"bearerFormat"`
}
