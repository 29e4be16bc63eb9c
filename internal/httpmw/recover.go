package httpmw

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// Recover turns handler panics into a logged error and a 500. onPanic, when
// set, is called once per recovered panic. http.ErrAbortHandler is re-raised
// so net/http can abort the connection as intended.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				if onPanic != nil {
					onPanic()
				}
				err, ok := p.(error)
				if ok {
					err = xerrors.Wrap(err, "panic")
				} else {
					err = xerrors.Newf("panic: %v", p)
				}
				L.Error(r.Context(), err, "ops handler panic recovered",
					"request_id", RequestIDFromContext(r.Context()),
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
