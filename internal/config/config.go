package config

import (
	"encoding/json"
	"flag"
	"os"
	"strings"
)

type Config struct {
	Port       string `json:"port"`
	SchemasDir string `json:"schemasDir"`
	EnumsDir   string `json:"enumsDir"`
	UsersFile  string `json:"usersFile"`
	DBURL      string `json:"dbUrl"`
	SecretKey  string `json:"secretKey"`

	// Файлы (локально), задел под S3
	BlobDriver string `json:"blobDriver"` // "local" (default) | "s3"
	FilesRoot  string `json:"filesRoot"`  // для local: папка хранения
}

func def() Config {
	return Config{
		Port:       "8080",
		SchemasDir: "schemas",
		EnumsDir:   "reference/enums",
		UsersFile:  "",
		DBURL:      "",
		SecretKey:  "",

		BlobDriver: "local",
		FilesRoot:  "uploads",
	}
}

func loadJSON(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// LoadWithPath читает JSON по указанному пути, потом применяет ENV и флаги.
func LoadWithPath(jsonPath string) Config {
	cfg := def()

	// JSON (если файл существует)
	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		if c2, err := loadJSON(jsonPath); err == nil {
			cfg = c2
		}
	}

	// ENV overrides
	cfg.Port = getenv("BERKUT_PORT", cfg.Port)
	cfg.SchemasDir = getenv("BERKUT_SCHEMAS_DIR", cfg.SchemasDir)
	cfg.EnumsDir = getenv("BERKUT_ENUMS_DIR", cfg.EnumsDir)
	cfg.UsersFile = getenv("BERKUT_USERS_FILE", cfg.UsersFile)
	cfg.DBURL = getenv("BERKUT_DB_URL", cfg.DBURL)
	cfg.SecretKey = getenv("BERKUT_SECRET_KEY", cfg.SecretKey)

	cfg.BlobDriver = getenv("BERKUT_BLOB_DRIVER", cfg.BlobDriver)
	cfg.FilesRoot = getenv("BERKUT_FILES_ROOT", cfg.FilesRoot)

	// Flags overrides
	configPath := flag.String("config", jsonPath, "Path to config JSON")
	port := flag.String("port", cfg.Port, "HTTP port")
	schemas := flag.String("schemas", cfg.SchemasDir, "Path to entity schemas directory")
	enums := flag.String("enums", cfg.EnumsDir, "Path to enums directory")
	users := flag.String("users", cfg.UsersFile, "Path to users YAML (empty = open access)")
	db := flag.String("db", cfg.DBURL, "Postgres URL (empty = in-memory)")
	secret := flag.String("secret", cfg.SecretKey, "Key for password/secret fields")

	blob := flag.String("blob-driver", cfg.BlobDriver, "Blob driver (local/s3)")
	files := flag.String("files-root", cfg.FilesRoot, "Local files root (if blob=local)")

	flag.Parse()

	// Если через флаг передали другой конфиг — перечитаем
	if *configPath != jsonPath {
		return LoadWithPath(*configPath)
	}

	cfg.Port = strings.TrimSpace(*port)
	cfg.SchemasDir = strings.TrimSpace(*schemas)
	cfg.EnumsDir = strings.TrimSpace(*enums)
	cfg.UsersFile = strings.TrimSpace(*users)
	cfg.DBURL = strings.TrimSpace(*db)
	cfg.SecretKey = strings.TrimSpace(*secret)

	cfg.BlobDriver = strings.TrimSpace(*blob)
	cfg.FilesRoot = strings.TrimSpace(*files)

	return cfg
}
