package types

type OpenAPISpec struct {
	OpenAPI    string               `json:"openapi"`
	Info       SpecInfo             `json:"info"`
	Servers    []SpecServer         `json:"servers,omitempty"`
	Tags       []SpecTag            `json:"tags,omitempty"`
	Paths      map[string]PathItem  `json:"paths"`
	Components *SpecComponents      `json:"components,omitempty"`
}

type SpecInfo struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

type SpecServer struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

type SpecTag struct {
	Name string `json:"name"`
}

// PathItem maps a lower-case HTTP method onto its operation.
type PathItem map[string]*RouteOperation

type RouteOperation struct {
	OperationID string                    `json:"operationId"`
	Summary     string                    `json:"summary,omitempty"`
	Tags        []string                  `json:"tags,omitempty"`
	Parameters  []RouteParameter          `json:"parameters,omitempty"`
	RequestBody *RouteRequestBody         `json:"requestBody,omitempty"`
	Responses   map[string]*RouteResponse `json:"responses"`
	Security    []map[string][]string     `json:"security,omitempty"`
}

type RouteParameter struct {
	Name        string       `json:"name"`
	In          string       `json:"in"`
	Description string       `json:"description,omitempty"`
	Required    bool         `json:"required"`
	Schema      *RouteSchema `json:"schema"`
}

type RouteRequestBody struct {
	Required bool                  `json:"required"`
	Content  map[string]*MediaType `json:"content"`
}

type RouteResponse struct {
	Description string                `json:"description"`
	Content     map[string]*MediaType `json:"content,omitempty"`
}

type MediaType struct {
	Schema *RouteSchema `json:"schema"`
}

type RouteSchema struct {
	Ref                  string                  `json:"$ref,omitempty"`
	Type                 string                  `json:"type,omitempty"`
	Format               string                  `json:"format,omitempty"`
	Properties           map[string]*RouteSchema `json:"properties,omitempty"`
	Items                *RouteSchema            `json:"items,omitempty"`
	AdditionalProperties *RouteSchema            `json:"additionalProperties,omitempty"`
	Required             []string                `json:"required,omitempty"`
	Enum                 []any                   `json:"enum,omitempty"`
	MinLength            *int                    `json:"minLength,omitempty"`
	MaxLength            *int                    `json:"maxLength,omitempty"`
	Minimum              *float64                `json:"minimum,omitempty"`
	Maximum              *float64                `json:"maximum,omitempty"`
}

type SpecComponents struct {
	Schemas         map[string]*RouteSchema         `json:"schemas,omitempty"`
	SecuritySchemes map[string]*RouteSecurityScheme `json:"securitySchemes,omitempty"`
}

type RouteSecurityScheme struct {
	Type         string `json:"type"`
	Scheme       string `json:"scheme,omitempty"`
	BearerFormat string `json:"bearerFormat,omitempty"`
	In           string `json:"in,omitempty"`
	Name         string `json:"name,omitempty"`
}
