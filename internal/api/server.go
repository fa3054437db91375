package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"berkut/internal/engine"
	"berkut/internal/reference"
)

const (
	ctxRole = "auth.role"
	ctxUser = "auth.user"
)

// Server — тонкая HTTP-обвязка над движком: маршруты, авторизация,
// маппинг кодов на статусы. Вся семантика данных живёт в engine.
type Server struct {
	Engine *engine.Engine
	Enums  map[string]reference.EnumDirectory
	Auth   *CatalogResolver
	Blob   BlobStore
}

func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.Use(s.authMiddleware())

	// статические "служебные" маршруты — СНАЧАЛА
	r.GET("/api/meta", s.MetaListHandler())
	r.GET("/api/meta/:entity", s.MetaEntityHandler())
	r.GET("/api/catalog/:name", s.CatalogHandler())

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/:entity/count", s.CountHandler())
		apiGroup.GET("/:entity/lookup", s.LookupHandler())
		apiGroup.PATCH("/:entity/_batch", s.BatchUpdateHandler())
		apiGroup.POST("/:entity/_delete", s.BatchDeleteHandler())

		// обычные CRUD
		apiGroup.POST("/:entity", s.CreateHandler())
		apiGroup.GET("/:entity", s.ListHandler())
		apiGroup.GET("/:entity/:id", s.ReadHandler())
		apiGroup.GET("/:entity/:id/property", s.PropertyHandler())
		apiGroup.PATCH("/:entity/:id", s.UpdateHandler())
		apiGroup.DELETE("/:entity/:id", s.DeleteHandler())
		apiGroup.POST("/:entity/:id/clone", s.CloneHandler())

		// файлы
		apiGroup.POST("/:entity/:id/file/:field", s.UploadFileHandler())
		apiGroup.GET("/:entity/:id/file/:field", s.DownloadFileHandler())
	}

	return r
}

func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

// authMiddleware достаёт роль по токену из заголовка. В открытом режиме
// (каталог пользователей не задан) пропускает всех с ролью "*".
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Auth-Token")
		role, ok := s.Auth.RoleByToken(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, engine.Result{
				Code: engine.CodeNoPerm, Err: "unknown token",
			})
			return
		}
		name := ""
		if u, found := s.Auth.tokens[token]; found {
			name = u.Name
		}
		c.Set(ctxRole, role)
		c.Set(ctxUser, name)
		c.Next()
	}
}
