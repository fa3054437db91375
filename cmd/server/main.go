package main

import (
	"context"
	"fmt"
	"log"

	"berkut/internal/api"
	"berkut/internal/config"
	"berkut/internal/engine"
	"berkut/internal/meta"
	"berkut/internal/reference"
	"berkut/internal/store"
	"berkut/internal/types"
)

func main() {
	cfg := config.LoadWithPath("config.json")

	// 1. Enum-справочники
	enums, err := reference.LoadEnumCatalog(cfg.EnumsDir)
	if err != nil {
		log.Fatalf("Ошибка загрузки enum-справочников: %v", err)
	}
	fmt.Printf("Загружено enum-справочников: %d\n", len(enums))

	// 2. Реестр типов
	typeReg := types.NewRegistry([]byte(cfg.SecretKey), enums)

	// 3. Схемы сущностей: двухфазная регистрация
	schemas, err := meta.LoadDir(cfg.SchemasDir)
	if err != nil {
		log.Fatalf("Ошибка загрузки схем: %v", err)
	}
	metaReg := meta.NewRegistry(typeReg)
	for _, s := range schemas {
		if err := metaReg.Add(s); err != nil {
			log.Fatalf("Схема %s: %v", s.Name, err)
		}
	}
	if err := metaReg.ValidateAll(); err != nil {
		log.Fatalf("Валидация схем: %v", err)
	}
	fmt.Printf("Загружено сущностей: %d\n", len(schemas))

	// 4. Хранилище: Postgres по URL, иначе in-memory
	var st store.Store
	if cfg.DBURL != "" {
		pg, err := store.Open(cfg.DBURL)
		if err != nil {
			log.Fatalf("Postgres: %v", err)
		}
		if err := pg.Migrate(context.Background()); err != nil {
			log.Fatalf("Миграция: %v", err)
		}
		st = pg
	} else {
		st = store.NewMemory()
	}

	// 5. Пользователи и роли
	auth, err := api.LoadCatalogResolver(cfg.UsersFile)
	if err != nil {
		log.Fatalf("Каталог пользователей: %v", err)
	}

	eng := engine.New(typeReg, metaReg, st)
	srv := &api.Server{
		Engine: eng,
		Enums:  enums,
		Auth:   auth,
		Blob:   &api.LocalBlobStore{Root: cfg.FilesRoot},
	}

	fmt.Printf("Стартуем сервер на :%s...\n", cfg.Port)
	if err := srv.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Сервер: %v", err)
	}
}
