package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"berkut/internal/engine"
	"berkut/internal/meta"
)

// statusFor переводит код движка в HTTP-статус.
func statusFor(code string) int {
	switch code {
	case engine.CodeOK:
		return http.StatusOK
	case engine.CodeNoPerm:
		return http.StatusForbidden
	case engine.CodeMissingParams, engine.CodeInvalidParams,
		engine.CodeRefNotFound, engine.CodeRefNotUnique:
		return http.StatusBadRequest
	case engine.CodeNotFound:
		return http.StatusNotFound
	case engine.CodeDuplicate, engine.CodeHasRefs:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// reply сериализует Result как есть, статус — по коду.
func reply(c *gin.Context, res *engine.Result) {
	c.JSON(statusFor(res.Code), res)
}

func replyCode(c *gin.Context, code, err string) {
	reply(c, &engine.Result{Code: code, Err: err})
}

// allow проверяет право роли на операцию (буква из crudoie) и возвращает
// действующую view-строку. Роли, объявленные прямо в схеме сущности, имеют
// приоритет над каталогом пользователей.
func (s *Server) allow(c *gin.Context, m *meta.Meta, op byte) (string, bool) {
	if !strings.ContainsRune(m.Mode, rune(op)) {
		return "", false
	}
	role := c.GetString(ctxRole)
	if r, ok := m.Roles[role]; ok {
		if !m.CanMode(r, op) {
			return "", false
		}
		view := r.View
		if view == "" {
			view = "*"
		}
		return view, true
	}
	mode, view := s.Auth.Resolve(c.Request.Context(), role, m.Name)
	if mode == "" {
		return "", false
	}
	if !m.CanMode(meta.Role{Mode: mode, View: view}, op) {
		return "", false
	}
	if view == "" {
		view = "*"
	}
	return view, true
}

// entity достаёт сущность по имени из пути.
func (s *Server) entity(c *gin.Context) (*engine.Entity, bool) {
	ent, err := s.Engine.Entity(c.Param("entity"))
	if err != nil {
		replyCode(c, engine.CodeNotFound, err.Error())
		return nil, false
	}
	return ent, true
}

// queryMap — плоская копия query-параметров (берём первое значение).
func queryMap(c *gin.Context) map[string]string {
	out := map[string]string{}
	for k, vs := range c.Request.URL.Query() {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

func bindDoc(c *gin.Context) (map[string]any, bool) {
	var doc map[string]any
	if err := c.ShouldBindJSON(&doc); err != nil {
		replyCode(c, engine.CodeInvalidParams, "invalid JSON body")
		return nil, false
	}
	return doc, true
}
