// Пакет generated — серверный интерфейс fileshare и chi-маршрутизация
// по контракту api/openapi.yaml, в форме oapi-codegen chi-server.
// При изменении контракта обновляется вместе с openapi.yaml.
package generated

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// FileId — идентификатор записи файла (path-параметр file_id).
type FileId = openapi_types.UUID //nolint:revive // имя из контракта

// SearchFilesParams — параметры GET /api/v1/files/search.
type SearchFilesParams struct {
	// Query — подстрока поиска; обязательность проверяет обработчик
	Query *string `form:"query,omitempty" json:"query,omitempty"`
}

// ServerInterface — обработчики всех операций контракта.
type ServerInterface interface {
	// GET /
	GetRoot(w http.ResponseWriter, r *http.Request)
	// GET /health/live
	HealthLive(w http.ResponseWriter, r *http.Request)
	// GET /health/ready
	HealthReady(w http.ResponseWriter, r *http.Request)
	// GET /metrics
	GetMetrics(w http.ResponseWriter, r *http.Request)
	// GET /api/v1/openapi.yaml
	GetOpenAPISpec(w http.ResponseWriter, r *http.Request)
	// GET /api/v1/files
	ListFiles(w http.ResponseWriter, r *http.Request)
	// POST /api/v1/files/upload
	UploadFile(w http.ResponseWriter, r *http.Request)
	// GET /api/v1/files/search
	SearchFiles(w http.ResponseWriter, r *http.Request, params SearchFilesParams)
	// GET /api/v1/files/{file_id}
	GetFile(w http.ResponseWriter, r *http.Request, fileId FileId)
	// GET /api/v1/files/{file_id}/download
	DownloadFile(w http.ResponseWriter, r *http.Request, fileId FileId)
	// GET /api/v1/peers
	ListPeers(w http.ResponseWriter, r *http.Request)
	// GET /ws/peers
	PeerChannel(w http.ResponseWriter, r *http.Request)
}

// MiddlewareFunc — middleware отдельной операции.
type MiddlewareFunc func(http.Handler) http.Handler

// ServerInterfaceWrapper разбирает параметры и вызывает ServerInterface.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

// InvalidParamFormatError — параметр не разобран.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

func (siw *ServerInterfaceWrapper) wrap(h http.Handler) http.Handler {
	for _, mw := range siw.HandlerMiddlewares {
		h = mw(h)
	}
	return h
}

func (siw *ServerInterfaceWrapper) simple(fn func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		siw.wrap(http.HandlerFunc(fn)).ServeHTTP(w, r)
	}
}

// SearchFiles разбирает query-параметр query.
func (siw *ServerInterfaceWrapper) SearchFiles(w http.ResponseWriter, r *http.Request) {
	var params SearchFilesParams
	if err := runtime.BindQueryParameter("form", true, false, "query", r.URL.Query(), &params.Query); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "query", Err: err})
		return
	}

	siw.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.SearchFiles(w, r, params)
	})).ServeHTTP(w, r)
}

// bindFileID разбирает path-параметр file_id.
func (siw *ServerInterfaceWrapper) bindFileID(w http.ResponseWriter, r *http.Request) (FileId, bool) {
	var fileId FileId
	err := runtime.BindStyledParameterWithOptions("simple", "file_id", chi.URLParam(r, "file_id"), &fileId,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "file_id", Err: err})
		return fileId, false
	}
	return fileId, true
}

// GetFile разбирает file_id.
func (siw *ServerInterfaceWrapper) GetFile(w http.ResponseWriter, r *http.Request) {
	fileId, ok := siw.bindFileID(w, r)
	if !ok {
		return
	}
	siw.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetFile(w, r, fileId)
	})).ServeHTTP(w, r)
}

// DownloadFile разбирает file_id.
func (siw *ServerInterfaceWrapper) DownloadFile(w http.ResponseWriter, r *http.Request) {
	fileId, ok := siw.bindFileID(w, r)
	if !ok {
		return
	}
	siw.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.DownloadFile(w, r, fileId)
	})).ServeHTTP(w, r)
}

// ChiServerOptions — параметры HandlerWithOptions.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// Handler создаёт http.Handler с маршрутами на новом chi-роутере.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

// HandlerFromMux регистрирует маршруты на переданном роутере.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{BaseRouter: r})
}

// HandlerWithOptions регистрирует маршруты с опциями.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}
	base := options.BaseURL

	r.Group(func(r chi.Router) {
		r.Get(base+"/", wrapper.simple(si.GetRoot))
		r.Get(base+"/health/live", wrapper.simple(si.HealthLive))
		r.Get(base+"/health/ready", wrapper.simple(si.HealthReady))
		r.Get(base+"/metrics", wrapper.simple(si.GetMetrics))
		r.Get(base+"/api/v1/openapi.yaml", wrapper.simple(si.GetOpenAPISpec))
		r.Get(base+"/api/v1/files", wrapper.simple(si.ListFiles))
		r.Post(base+"/api/v1/files/upload", wrapper.simple(si.UploadFile))
		r.Get(base+"/api/v1/files/search", wrapper.SearchFiles)
		r.Get(base+"/api/v1/files/{file_id}", wrapper.GetFile)
		r.Get(base+"/api/v1/files/{file_id}/download", wrapper.DownloadFile)
		r.Get(base+"/api/v1/peers", wrapper.simple(si.ListPeers))
		r.Get(base+"/ws/peers", wrapper.simple(si.PeerChannel))
	})

	return r
}
