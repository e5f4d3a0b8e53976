package documentations

import (
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

const (
	bearerScheme = "bearerAuth"
	queryScheme  = "queryToken"

	authMiddleware = "jwt_authentication"
)

// Described is implemented by composed pipelines; routes whose invoker does
// not describe itself are documented by method and path only.
type Described interface {
	Handler() *pipeline.Handler
	Middlewares() []string
}

type routeDoc struct {
	method      string
	path        string
	handler     *pipeline.Handler
	middlewares []string
}

// Manager builds an OpenAPI 3 document from the routes registered through
// Record.
type Manager struct {
	logger         types.Logger
	info           types.SpecInfo
	servers        []types.SpecServer
	tokenQueryName string
	mu             sync.RWMutex
	routes         map[string]*routeDoc
	spec           *types.OpenAPISpec
}

func NewManager(info types.SpecInfo, servers []string, tokenQueryName string, logger types.Logger) *Manager {
	specServers := make([]types.SpecServer, 0, len(servers))
	for _, url := range servers {
		specServers = append(specServers, types.SpecServer{URL: url})
	}

	return &Manager{
		logger:         logger,
		info:           info,
		servers:        specServers,
		tokenQueryName: tokenQueryName,
		routes:         make(map[string]*routeDoc),
	}
}

// Record returns a web app that documents every route before registering it
// on app.
func (dm *Manager) Record(app types.WebApp) types.WebApp {
	return &recordingApp{WebApp: app, docs: dm}
}

func (dm *Manager) AddRoute(method, path string, invoker types.Invoker) {
	doc := &routeDoc{method: strings.ToUpper(method), path: openAPIPath(path)}
	if described, ok := invoker.(Described); ok {
		doc.handler = described.Handler()
		doc.middlewares = described.Middlewares()
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.routes[doc.method+":"+doc.path] = doc
	dm.spec = nil
}

// Spec returns the generated document, rebuilding it after route changes.
func (dm *Manager) Spec() *types.OpenAPISpec {
	dm.mu.RLock()
	spec := dm.spec
	dm.mu.RUnlock()
	if spec != nil {
		return spec
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.spec == nil {
		dm.spec = dm.generate()
		dm.logger.Debug("OpenAPI document generated", zap.Int("paths", len(dm.spec.Paths)))
	}
	return dm.spec
}

func (dm *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := utils.Marshal(dm.Spec())
		if err != nil {
			dm.logger.Error("Failed to encode OpenAPI document", zap.Error(err))
			status, errBody := utils.EncodeResult(nil, err)
			utils.WriteHTTP(w, r, status, errBody)
			return
		}
		utils.WriteHTTP(w, r, http.StatusOK, body)
	})
}

func (dm *Manager) generate() *types.OpenAPISpec {
	spec := &types.OpenAPISpec{
		OpenAPI: "3.0.3",
		Info:    dm.info,
		Servers: dm.servers,
		Paths:   make(map[string]types.PathItem),
		Components: &types.SpecComponents{
			Schemas:         make(map[string]*types.RouteSchema),
			SecuritySchemes: dm.generateSecuritySchemes(),
		},
	}

	spec.Components.Schemas["ErrorResponse"] = errorSchema()

	tags := make(map[string]struct{})

	for _, route := range dm.routes {
		item, ok := spec.Paths[route.path]
		if !ok {
			item = make(types.PathItem)
			spec.Paths[route.path] = item
		}

		operation := dm.generateOperation(route, spec.Components.Schemas)
		item[strings.ToLower(route.method)] = operation

		for _, tag := range operation.Tags {
			tags[tag] = struct{}{}
		}
	}

	for tag := range tags {
		spec.Tags = append(spec.Tags, types.SpecTag{Name: tag})
	}
	sort.Slice(spec.Tags, func(i, j int) bool { return spec.Tags[i].Name < spec.Tags[j].Name })

	return spec
}

func (dm *Manager) generateOperation(route *routeDoc, schemas map[string]*types.RouteSchema) *types.RouteOperation {
	operation := &types.RouteOperation{
		OperationID: strings.ToLower(route.method) + strings.NewReplacer("/", "_", "{", "", "}", "", "-", "_").Replace(route.path),
		Tags:        []string{tagFor(route.path)},
		Responses: map[string]*types.RouteResponse{
			"200": {Description: "Successful response"},
		},
	}

	if route.handler != nil {
		operation.OperationID = route.handler.Name
		operation.Summary = strings.ReplaceAll(route.handler.Name, "_", " ")
	}

	for _, name := range pathParams(route.path) {
		operation.Parameters = append(operation.Parameters, types.RouteParameter{
			Name:     name,
			In:       "path",
			Required: true,
			Schema:   &types.RouteSchema{Type: "string"},
		})
	}

	typed := route.handler != nil && route.handler.RequestType != nil
	if typed {
		requestType := derefType(route.handler.RequestType)
		if requestType.Kind() == reflect.Struct {
			name := requestType.Name()
			schemas[name] = generateSchema(requestType)

			if route.method == http.MethodGet || route.method == http.MethodDelete {
				operation.Parameters = append(operation.Parameters, queryParams(requestType)...)
			} else {
				operation.RequestBody = &types.RouteRequestBody{
					Required: true,
					Content: map[string]*types.MediaType{
						"application/json": {Schema: &types.RouteSchema{Ref: "#/components/schemas/" + name}},
					},
				}
			}
		}
		operation.Responses["400"] = errorResponse("Validation error")
	}

	if dm.secured(route) {
		operation.Security = []map[string][]string{{bearerScheme: {}}}
		if dm.tokenQueryName != "" {
			operation.Security = append(operation.Security, map[string][]string{queryScheme: {}})
		}
		operation.Responses["401"] = errorResponse("Authentication required")
		operation.Responses["403"] = errorResponse("Permission denied")
		operation.Responses["503"] = errorResponse("Service unavailable")
	}

	operation.Responses["500"] = errorResponse("Internal server error")

	return operation
}

func (dm *Manager) secured(route *routeDoc) bool {
	for _, name := range route.middlewares {
		if name == authMiddleware {
			return true
		}
	}
	return false
}

func (dm *Manager) generateSecuritySchemes() map[string]*types.RouteSecurityScheme {
	schemes := map[string]*types.RouteSecurityScheme{
		bearerScheme: {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}
	if dm.tokenQueryName != "" {
		schemes[queryScheme] = &types.RouteSecurityScheme{Type: "apiKey", In: "query", Name: dm.tokenQueryName}
	}
	return schemes
}

var timeType = reflect.TypeOf(time.Time{})

func generateSchema(t reflect.Type) *types.RouteSchema {
	t = derefType(t)

	if t == timeType {
		return &types.RouteSchema{Type: "string", Format: "date-time"}
	}

	switch t.Kind() {
	case reflect.Struct:
		return structSchema(t)
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return &types.RouteSchema{Type: "string", Format: "byte"}
		}
		return &types.RouteSchema{Type: "array", Items: generateSchema(t.Elem())}
	case reflect.Map:
		return &types.RouteSchema{Type: "object", AdditionalProperties: generateSchema(t.Elem())}
	case reflect.String:
		return &types.RouteSchema{Type: "string"}
	case reflect.Bool:
		return &types.RouteSchema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &types.RouteSchema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &types.RouteSchema{Type: "number"}
	default:
		return &types.RouteSchema{Type: "object"}
	}
}

func structSchema(t reflect.Type) *types.RouteSchema {
	schema := &types.RouteSchema{Type: "object", Properties: make(map[string]*types.RouteSchema)}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, ok := fieldName(field)
		if !ok {
			continue
		}

		fieldSchema := generateSchema(field.Type)
		if applyValidation(fieldSchema, field.Tag.Get("validate")) {
			schema.Required = append(schema.Required, name)
		}
		schema.Properties[name] = fieldSchema
	}

	return schema
}

// applyValidation maps validator tags onto schema constraints and reports
// whether the field is required.
func applyValidation(schema *types.RouteSchema, tag string) bool {
	required := false

	for _, rule := range strings.Split(tag, ",") {
		key, value, _ := strings.Cut(rule, "=")

		switch key {
		case "required":
			required = true
		case "email":
			schema.Format = "email"
		case "uuid", "uuid4":
			schema.Format = "uuid"
		case "oneof":
			for _, option := range strings.Fields(value) {
				schema.Enum = append(schema.Enum, option)
			}
		case "min", "max", "gte", "lte":
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				continue
			}
			lower := key == "min" || key == "gte"
			if schema.Type == "string" {
				length := int(n)
				if lower {
					schema.MinLength = &length
				} else {
					schema.MaxLength = &length
				}
			} else if lower {
				schema.Minimum = &n
			} else {
				schema.Maximum = &n
			}
		}
	}

	return required
}

func queryParams(t reflect.Type) []types.RouteParameter {
	params := make([]types.RouteParameter, 0, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name, ok := fieldName(field)
		if !ok {
			continue
		}

		schema := generateSchema(field.Type)
		params = append(params, types.RouteParameter{
			Name:     name,
			In:       "query",
			Required: applyValidation(schema, field.Tag.Get("validate")),
			Schema:   schema,
		})
	}

	return params
}

func fieldName(field reflect.StructField) (string, bool) {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	switch name {
	case "-":
		return "", false
	case "":
		return field.Name, true
	}
	return name, true
}

func errorSchema() *types.RouteSchema {
	return &types.RouteSchema{
		Type: "object",
		Properties: map[string]*types.RouteSchema{
			"error":   {Type: "string"},
			"message": {Type: "string"},
			"status":  {Type: "integer"},
		},
		Required: []string{"error", "status"},
	}
}

func errorResponse(description string) *types.RouteResponse {
	return &types.RouteResponse{
		Description: description,
		Content: map[string]*types.MediaType{
			"application/json": {Schema: &types.RouteSchema{Ref: "#/components/schemas/ErrorResponse"}},
		},
	}
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// openAPIPath rewrites :name segments into {name}.
func openAPIPath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if len(seg) > 1 && seg[0] == ':' {
			segments[i] = "{" + seg[1:] + "}"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func pathParams(path string) []string {
	var params []string
	for _, seg := range strings.Split(path, "/") {
		if len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}' {
			params = append(params, seg[1:len(seg)-1])
		}
	}
	return params
}

func tagFor(path string) string {
	segment, _, _ := strings.Cut(strings.Trim(path, "/"), "/")
	if segment == "" {
		return "default"
	}
	return segment
}

type recordingApp struct {
	types.WebApp
	docs *Manager
}

func (r *recordingApp) Route(method, path string, handler types.Invoker) {
	r.docs.AddRoute(method, path, handler)
	r.WebApp.Route(method, path, handler)
}
