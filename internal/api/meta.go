package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"berkut/internal/engine"
)

// ===== META HANDLERS =====

type metaEntityListItem struct {
	Entity string `json:"entity"`
	Mode   string `json:"mode"`
}

// GET /api/meta
func (s *Server) MetaListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		names := s.Engine.Metas.Names()
		out := make([]metaEntityListItem, 0, len(names))
		for _, name := range names {
			m, err := s.Engine.Metas.Get(name)
			if err != nil {
				continue
			}
			out = append(out, metaEntityListItem{Entity: name, Mode: m.Mode})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaField struct {
	Name     string   `json:"name"`
	Type     string   `json:"type,omitempty"`
	Required bool     `json:"required,omitempty"`
	Ref      string   `json:"ref,omitempty"`
	Link     string   `json:"link,omitempty"`
	View     []string `json:"view,omitempty"`
	Group    string   `json:"group,omitempty"`
}

type metaEntity struct {
	Entity      string      `json:"entity"`
	Mode        string      `json:"mode"`
	PrimaryKeys []string    `json:"primaryKeys,omitempty"`
	RefLabel    string      `json:"refLabel,omitempty"`
	RefBy       []string    `json:"refBy,omitempty"`
	Fields      []metaField `json:"fields"`
}

// GET /api/meta/:entity
// Отдаём только клиентские поля в видимости вызывающего: схема наружу
// показывается ровно так же урезанной, как и данные.
func (s *Server) MetaEntityHandler() gin.HandlerFunc {
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
		m := ent.Meta
		fields := make([]metaField, 0, len(m.ClientFields))
		for _, f := range m.ClientFields {
			if !engine.ViewVisible(f.View, view) {
				continue
			}
			fields = append(fields, metaField{
				Name:     f.Name,
				Type:     f.Type,
				Required: f.Required,
				Ref:      f.Ref,
				Link:     f.Link,
				View:     append([]string(nil), f.View...),
				Group:    f.Group,
			})
		}
		c.JSON(http.StatusOK, metaEntity{
			Entity:      m.Name,
			Mode:        m.Mode,
			PrimaryKeys: append([]string(nil), m.PrimaryKeys...),
			RefLabel:    m.RefLabel,
			RefBy:       append([]string(nil), m.RefBy...),
			Fields:      fields,
		})
	}
}

// GET /api/catalog/:name
// С параметром ?code= отдаёт одну позицию: код и человекочитаемую метку.
func (s *Server) CatalogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		dir, ok := s.Enums[name]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Catalog not found"})
			return
		}
		if code := c.Query("code"); code != "" {
			if !dir.Has(code) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Code not found"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"code": code, "label": dir.Label(code)})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"name":  name,
			"items": dir.Items,
		})
	}
}
