package api

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"berkut/internal/engine"
	"berkut/internal/store"
)

// Коллекция с метаданными загруженных файлов. Документ: ключ блоба, имя,
// MIME, размер, хэш и обратная ссылка на сущность-владельца.
const filesCollection = "_files"

// POST /api/:entity/:id/file/:field
// Принимает multipart с полем "file", кладёт содержимое в blob-хранилище
// и записывает ключ в file-поле документа.
func (s *Server) UploadFileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ent, ok := s.entity(c)
		if !ok {
			return
		}
		if _, ok := s.allow(c, ent.Meta, 'u'); !ok {
			replyCode(c, engine.CodeNoPerm, "update not allowed")
			return
		}
		if s.Blob == nil {
			replyCode(c, engine.CodeError, "blob store not configured")
			return
		}
		id := c.Param("id")
		fieldName := c.Param("field")
		f, found := ent.Meta.Field(fieldName)
		if !found || f.Type != "file" {
			replyCode(c, engine.CodeInvalidParams, fmt.Sprintf("%s is not a file field", fieldName))
			return
		}

		ctx := c.Request.Context()
		doc, err := s.Engine.Store.FindOne(ctx, ent.Meta.Name, store.Filter{store.IDField: id}, nil)
		if err != nil {
			replyCode(c, engine.CodeError, err.Error())
			return
		}
		if doc == nil {
			replyCode(c, engine.CodeNotFound, ent.Meta.Name+" not found")
			return
		}

		file, hdr, err := c.Request.FormFile("file")
		if err != nil {
			replyCode(c, engine.CodeMissingParams, "multipart file not found (field name 'file')")
			return
		}
		defer file.Close()

		key, size, sum, err := s.Blob.Put(file)
		if err != nil {
			replyCode(c, engine.CodeError, err.Error())
			return
		}

		// старый блоб заменяем, мусор не копим
		if old, _ := doc[fieldName].(string); old != "" {
			_ = s.Blob.Delete(old)
			_, _ = s.Engine.Store.Delete(ctx, filesCollection, store.Filter{"key": old})
		}

		if _, err := s.Engine.Store.Create(ctx, filesCollection, store.Doc{
			"key":        key,
			"entity":     ent.Meta.Name,
			"doc_id":     id,
			"field":      fieldName,
			"file_name":  safeName(hdr),
			"mime":       hdr.Header.Get("Content-Type"),
			"size":       float64(size),
			"hash":       sum,
			"created_at": time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			replyCode(c, engine.CodeError, err.Error())
			return
		}
		if _, err := s.Engine.Store.Update(ctx, ent.Meta.Name,
			store.Filter{store.IDField: id}, store.Doc{fieldName: key}); err != nil {
			replyCode(c, engine.CodeError, err.Error())
			return
		}
		reply(c, &engine.Result{Code: engine.CodeOK, Data: gin.H{"key": key, "size": size, "hash": sum}})
	}
}

// GET /api/:entity/:id/file/:field
func (s *Server) DownloadFileHandler() gin.HandlerFunc {
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
		if s.Blob == nil {
			replyCode(c, engine.CodeError, "blob store not configured")
			return
		}
		id := c.Param("id")
		fieldName := c.Param("field")
		f, found := ent.Meta.Field(fieldName)
		if !found || f.Type != "file" || !engine.ViewVisible(f.View, view) {
			replyCode(c, engine.CodeInvalidParams, fmt.Sprintf("%s is not a file field", fieldName))
			return
		}

		ctx := c.Request.Context()
		doc, err := s.Engine.Store.FindOne(ctx, ent.Meta.Name,
			store.Filter{store.IDField: id}, []string{fieldName})
		if err != nil {
			replyCode(c, engine.CodeError, err.Error())
			return
		}
		if doc == nil {
			replyCode(c, engine.CodeNotFound, ent.Meta.Name+" not found")
			return
		}
		key, _ := doc[fieldName].(string)
		if key == "" {
			replyCode(c, engine.CodeNotFound, "file not set")
			return
		}

		name, mime := "file", "application/octet-stream"
		if info, _ := s.Engine.Store.FindOne(ctx, filesCollection,
			store.Filter{"key": key}, nil); info != nil {
			if v, _ := info["file_name"].(string); v != "" {
				name = v
			}
			if v, _ := info["mime"].(string); v != "" {
				mime = v
			}
		}

		p, err := s.Blob.Path(key)
		if err != nil {
			replyCode(c, engine.CodeError, err.Error())
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		c.Header("Content-Type", mime)
		c.File(p)
	}
}

func safeName(h *multipart.FileHeader) string {
	name := strings.TrimSpace(filepath.Base(h.Filename))
	if name == "" || name == "." {
		return "file"
	}
	return name
}
