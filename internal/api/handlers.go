package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"berkut/internal/engine"
	"berkut/internal/store"
)

// POST /api/:entity
func (s *Server) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		view, ok := s.allow(c, ent.Meta, 'c')
		if !ok {
			replyCode(c, engine.CodeNoPerm, "create not allowed")
			return
		}
		doc, ok := bindDoc(c)
		if !ok {
			return
		}
		// владельца проставляем сами, если сущность его ведёт
		if uf := ent.Meta.UserField; uf != "" && doc[uf] == nil {
			if name := c.GetString(ctxUser); name != "" {
				doc[uf] = name
			}
		}
		res := ent.Create(c.Request.Context(), doc, view)
		if res.OK() {
			c.JSON(201, res)
			return
		}
		reply(c, res)
	}
}

// GET /api/:entity
func (s *Server) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		view, ok := s.allow(c, ent.Meta, 'r')
		if !ok {
			replyCode(c, engine.CodeNoPerm, "read not allowed")
			return
		}
		reply(c, ent.List(c.Request.Context(), queryMap(c), store.Filter{}, view))
	}
}

// GET /api/:entity/:id
func (s *Server) ReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		view, ok := s.allow(c, ent.Meta, 'r')
		if !ok {
			replyCode(c, engine.CodeNoPerm, "read not allowed")
			return
		}
		reply(c, ent.ReadEntity(c.Request.Context(), c.Param("id"), view))
	}
}

// GET /api/:entity/:id/property — сырые значения для форм редактирования
func (s *Server) PropertyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		view, ok := s.allow(c, ent.Meta, 'r')
		if !ok {
			replyCode(c, engine.CodeNoPerm, "read not allowed")
			return
		}
		reply(c, ent.ReadProperty(c.Request.Context(), c.Param("id"), view))
	}
}

// PATCH /api/:entity/:id
func (s *Server) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		view, ok := s.allow(c, ent.Meta, 'u')
		if !ok {
			replyCode(c, engine.CodeNoPerm, "update not allowed")
			return
		}
		doc, ok := bindDoc(c)
		if !ok {
			return
		}
		reply(c, ent.Update(c.Request.Context(), c.Param("id"), doc, view))
	}
}

type batchUpdateBody struct {
	IDs []string       `json:"ids"`
	Doc map[string]any `json:"doc"`
}

// PATCH /api/:entity/_batch
func (s *Server) BatchUpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		view, ok := s.allow(c, ent.Meta, 'u')
		if !ok {
			replyCode(c, engine.CodeNoPerm, "update not allowed")
			return
		}
		var body batchUpdateBody
		if err := c.ShouldBindJSON(&body); err != nil {
			replyCode(c, engine.CodeInvalidParams, "invalid JSON body")
			return
		}
		reply(c, ent.BatchUpdate(c.Request.Context(), body.IDs, body.Doc, view))
	}
}

// DELETE /api/:entity/:id  (список через запятую тоже принимаем)
func (s *Server) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		if _, ok := s.allow(c, ent.Meta, 'd'); !ok {
			replyCode(c, engine.CodeNoPerm, "delete not allowed")
			return
		}
		ids := strings.Split(c.Param("id"), ",")
		reply(c, ent.Delete(c.Request.Context(), ids))
	}
}

type batchDeleteBody struct {
	IDs []string `json:"ids"`
}

// POST /api/:entity/_delete
func (s *Server) BatchDeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		if _, ok := s.allow(c, ent.Meta, 'd'); !ok {
			replyCode(c, engine.CodeNoPerm, "delete not allowed")
			return
		}
		var body batchDeleteBody
		if err := c.ShouldBindJSON(&body); err != nil {
			replyCode(c, engine.CodeInvalidParams, "invalid JSON body")
			return
		}
		reply(c, ent.Delete(c.Request.Context(), body.IDs))
	}
}

// POST /api/:entity/:id/clone
func (s *Server) CloneHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		view, ok := s.allow(c, ent.Meta, 'o')
		if !ok {
			replyCode(c, engine.CodeNoPerm, "clone not allowed")
			return
		}
		doc, ok := bindDoc(c)
		if !ok {
			return
		}
		res := ent.Clone(c.Request.Context(), c.Param("id"), doc, view)
		if res.OK() {
			c.JSON(201, res)
			return
		}
		reply(c, res)
	}
}

// GET /api/:entity/count
func (s *Server) CountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		if _, ok := s.allow(c, ent.Meta, 'r'); !ok {
			replyCode(c, engine.CodeNoPerm, "read not allowed")
			return
		}
		reply(c, ent.Count(c.Request.Context(), queryMap(c), store.Filter{}))
	}
}

// GET /api/:entity/lookup?q=
func (s *Server) LookupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		if _, ok := s.allow(c, ent.Meta, 'r'); !ok {
			replyCode(c, engine.CodeNoPerm, "read not allowed")
			return
		}
		reply(c, ent.Lookup(c.Request.Context(), c.Query("q"), 0))
	}
}
