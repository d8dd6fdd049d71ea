package api

import (
	"fmt"
	"net/http"

	"reportapp/internal/core"
)

// DocHandler serves an OpenAPI description of the backend. The run
// endpoint carries one example per active report definition.
type DocHandler struct {
	defs core.DefinitionRepository
}

func NewDocHandler(defs core.DefinitionRepository) *DocHandler {
	return &DocHandler{defs: defs}
}

func (h *DocHandler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	html := `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Report API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
        window.ui = SwaggerUIBundle({
            url: '/api/docs/openapi.json',
            dom_id: '#swagger-ui',
        });
    };
</script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}

func jsonBody(schema map[string]any) map[string]any {
	return map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{"schema": schema},
		},
	}
}

func formBody(fields ...string) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f] = map[string]string{"type": "string"}
	}
	return map[string]any{
		"required": true,
		"content": map[string]any{
			"multipart/form-data": map[string]any{
				"schema": map[string]any{"type": "object", "properties": props},
			},
		},
	}
}

func operation(tag, summary string) map[string]any {
	return map[string]any{
		"summary": summary,
		"tags":    []string{tag},
		"responses": map[string]any{
			"200": map[string]any{"description": "OK"},
			"401": map[string]any{"description": "Invalid or expired token"},
		},
	}
}

func with(op map[string]any, key string, v any) map[string]any {
	op[key] = v
	return op
}

func pathParam(name string) map[string]any {
	return map[string]any{"name": name, "in": "path", "required": true, "schema": map[string]string{"type": "string"}}
}

func queryParam(name string) map[string]any {
	return map[string]any{"name": name, "in": "query", "schema": map[string]string{"type": "string"}}
}

// runExamples builds a multipart example per active definition so the run
// endpoint shows the param_<name> fields each report expects.
func runExamples(defs []core.ReportDefinition) map[string]any {
	examples := make(map[string]any)
	for _, d := range defs {
		if !d.Active {
			continue
		}
		value := map[string]any{"definition_id": d.ID}
		for _, name := range d.ParamNames() {
			value["param_"+name] = "value"
		}
		examples[core.SanitizeFileBase(d.ReportName)] = map[string]any{
			"summary": fmt.Sprintf("%s (%s)", d.ReportName, d.StoredProcedure),
			"value":   value,
		}
	}
	return examples
}

func (h *DocHandler) GetOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	defs, err := h.defs.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list definitions")
		return
	}

	run := with(operation("reports", "Run a report definition"), "requestBody", map[string]any{
		"required": true,
		"content": map[string]any{
			"multipart/form-data": map[string]any{
				"schema": map[string]any{
					"type":                 "object",
					"properties":           map[string]any{"definition_id": map[string]string{"type": "integer"}},
					"additionalProperties": map[string]string{"type": "string"},
				},
				"examples": runExamples(defs),
			},
		},
	})

	definition := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"report_name":      map[string]string{"type": "string"},
			"stored_procedure": map[string]string{"type": "string"},
			"parameters":       map[string]any{"type": "array", "items": map[string]any{}},
			"active":           map[string]string{"type": "boolean"},
		},
	}

	paths := map[string]any{
		"/login": map[string]any{
			"post": with(operation("auth", "Exchange credentials for a token"), "requestBody", jsonBody(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"username": map[string]string{"type": "string"},
					"password": map[string]string{"type": "string"},
				},
			})),
		},
		"/me/change-password": map[string]any{
			"post": with(operation("auth", "Change the caller's password"), "requestBody", formBody("new_password")),
		},
		"/report/definitions": map[string]any{
			"get":  operation("reports", "List report definitions"),
			"post": with(operation("reports", "Create a report definition"), "requestBody", jsonBody(definition)),
		},
		"/report/definitions/{id}": map[string]any{
			"parameters": []any{pathParam("id")},
			"get":        operation("reports", "Get a report definition"),
			"put":        with(operation("reports", "Update a report definition"), "requestBody", jsonBody(definition)),
			"delete":     operation("reports", "Delete a report definition"),
		},
		"/report/parameter-values/{defId}/{param}": map[string]any{
			"parameters": []any{pathParam("defId"), pathParam("param")},
			"get":        operation("reports", "Lookup values for a parameter"),
		},
		"/report/proc-parameters": map[string]any{
			"get": with(operation("reports", "Discover stored procedure parameters"), "parameters", []any{queryParam("name")}),
		},
		"/report/stored-procedures": map[string]any{
			"get": operation("reports", "List stored procedures"),
		},
		"/report/run":             map[string]any{"post": run},
		"/report/generate":        map[string]any{"post": with(operation("reports", "Generate a quick report"), "requestBody", formBody("report_name"))},
		"/report/db/diag":         map[string]any{"get": operation("diagnostics", "Check the definitions database")},
		"/report/db/diag/runtime": map[string]any{"get": operation("diagnostics", "Check the runtime database")},
		"/diag":                   map[string]any{"get": operation("diagnostics", "Application database info")},
		"/admin/settings":         map[string]any{"get": operation("settings", "Read connection settings"), "put": operation("settings", "Merge connection settings")},
		"/admin/databases":        map[string]any{"get": operation("settings", "List server databases")},
		"/admin/odbc-drivers":     map[string]any{"get": operation("settings", "List ODBC drivers")},
		"/settings/test":          map[string]any{"post": operation("settings", "Test connection settings")},
		"/settings/save":          map[string]any{"post": operation("settings", "Replace connection settings")},
		"/users":                  map[string]any{"get": operation("users", "List users")},
		"/create-user":            map[string]any{"post": with(operation("users", "Create a user"), "requestBody", formBody("username", "password", "role"))},
		"/users/{id}":             map[string]any{"parameters": []any{pathParam("id")}, "put": with(operation("users", "Update a user"), "requestBody", formBody("username", "password", "role")), "delete": operation("users", "Delete a user")},
		"/get-sheet-names":        map[string]any{"post": with(operation("import", "List workbook sheets"), "requestBody", formBody("file"))},
		"/import-preview":         map[string]any{"post": with(operation("import", "Preview an upload"), "requestBody", formBody("file", "sheet_name", "max_rows"))},
		"/import-data":            map[string]any{"post": with(operation("import", "Import uploads into a table"), "requestBody", formBody("files", "table_name", "create_new", "sheet_name"))},
		"/tables":                 map[string]any{"get": operation("import", "List imported tables")},
		"/dashboard/summary":      map[string]any{"get": operation("dashboard", "Dashboard totals")},
		"/recent-activity":        map[string]any{"get": operation("dashboard", "Recent imports and reports")},
		"/powerbi/reports":        map[string]any{"get": operation("powerbi", "List embeds"), "post": operation("powerbi", "Register an embed")},
		"/powerbi/reports/{id}":   map[string]any{"parameters": []any{pathParam("id")}, "delete": operation("powerbi", "Remove an embed")},
		"/powerbi/settings":       map[string]any{"get": operation("powerbi", "First enabled embed"), "post": operation("powerbi", "Append an embed")},
		"/powerbi/health":         map[string]any{"get": with(operation("powerbi", "Probe an embed URL"), "parameters", []any{queryParam("url")})},
		"/powerbi/local-files":    map[string]any{"get": operation("powerbi", "List local .pbix files")},
		"/powerbi/open-local":     map[string]any{"post": with(operation("powerbi", "Open a .pbix in Power BI Desktop"), "requestBody", formBody("file_path"))},
	}

	spec := map[string]any{
		"openapi": "3.0.0",
		"info": map[string]any{
			"title":       "Report API",
			"version":     "1.0.0",
			"description": "Report definitions, execution, imports and Power BI embeds.",
		},
		"servers": []map[string]string{{"url": "/api"}},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
		"security": []map[string]any{{"BearerAuth": []string{}}},
	}
	writeJSON(w, http.StatusOK, spec)
}
