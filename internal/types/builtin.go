package types

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"berkut/internal/reference"
)

var (
	timeRe  = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d(:[0-5]\d)?$`)
	emailRe = regexp.MustCompile(`^[\w.+-]+@[\w-]+(\.[\w-]+)+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{3,18}[0-9]$`)
	uuidRe  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	colorRe = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	slugWs  = regexp.MustCompile(`\s+`)
	slugBad = regexp.MustCompile(`[^a-z0-9_-]`)
)

// registerBuiltins наполняет реестр встроенными типами.
func (r *Registry) registerBuiltins() {
	// --- строковое семейство ---
	// базовая строка: трим + html-экранирование (&<>"')
	r.Register(Type{Name: "string", Convert: func(v any) (any, error) {
		s, err := toStringAny(v)
		if err != nil {
			return nil, err
		}
		return escapeHTML(strings.TrimSpace(s)), nil
	}})
	// длинный текст и прочие строковые — без трансформаций, только stringify
	// (file хранит ключ блоба, тоже строка)
	for _, name := range []string{"text", "enum", "date", "category", "file"} {
		n := name
		r.Register(Type{Name: n, Convert: func(v any) (any, error) {
			return toStringAny(v)
		}})
	}

	// --- секреты ---
	// password — односторонний keyed-hash, обратно не расшифровывается
	r.Register(Type{Name: "password", Convert: func(v any) (any, error) {
		s, err := toStringAny(v)
		if err != nil {
			return nil, err
		}
		mac := hmac.New(sha256.New, r.key)
		mac.Write([]byte(s))
		return hex.EncodeToString(mac.Sum(nil)), nil
	}})
	// secret — обратимое шифрование, случайный nonce пишем рядом с шифртекстом
	r.Register(Type{Name: "secret", Convert: func(v any) (any, error) {
		s, err := toStringAny(v)
		if err != nil {
			return nil, err
		}
		return r.encryptSecret(s)
	}})

	// --- числа ---
	r.Register(Type{Name: "int", Convert: func(v any) (any, error) {
		return toInt(v, false)
	}})
	r.Register(Type{Name: "uint", Convert: func(v any) (any, error) {
		return toInt(v, true)
	}})
	// float/percent/money — округляем до двух знаков
	for _, name := range []string{"float", "percent", "money"} {
		n := name
		r.Register(Type{Name: n, Convert: func(v any) (any, error) {
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			return math.Round(f*100) / 100, nil
		}})
	}
	// currency — полная точность, без округления
	r.Register(Type{Name: "currency", Convert: func(v any) (any, error) {
		return toFloat(v)
	}})

	// --- bool ---
	// только bool-литералы и их строковые написания, всё остальное — ошибка
	r.Register(Type{Name: "bool", Convert: func(v any) (any, error) {
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, errors.New("must be boolean")
	}})

	// --- дата/время ---
	// datetime: парсим в момент времени и пересериализуем в канонический RFC3339 UTC
	r.Register(Type{Name: "datetime", Convert: func(v any) (any, error) {
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339), nil
		}
		s, err := toStringAny(v)
		if err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, perr := time.Parse(layout, s); perr == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, errors.New("must be datetime")
	}})
	// time — только по шаблону HH:MM(:SS)
	r.Register(Type{Name: "time", Convert: func(v any) (any, error) {
		s, err := toStringAny(v)
		if err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if !timeRe.MatchString(s) {
			return nil, errors.New("must be time HH:MM[:SS]")
		}
		return s, nil
	}})

	// --- валидируемые строки: значение проходит насквозь ---
	r.Register(patternType("email", emailRe, "must be email"))
	r.Register(patternType("phone", phoneRe, "must be phone"))
	r.Register(patternType("uuid", uuidRe, "must be uuid"))
	r.Register(patternType("color", colorRe, "must be hex color"))
	r.Register(Type{Name: "url", Convert: func(v any) (any, error) {
		s, err := toStringAny(v)
		if err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		u, perr := url.Parse(s)
		if perr != nil || u.Scheme == "" || u.Host == "" {
			return nil, errors.New("must be url")
		}
		return s, nil
	}})
	r.Register(Type{Name: "ipaddress", Convert: func(v any) (any, error) {
		s, err := toStringAny(v)
		if err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if net.ParseIP(s) == nil {
			return nil, errors.New("must be ip address")
		}
		return s, nil
	}})

	// --- структурные ---
	// array: нативный список или строка через запятую
	r.Register(Type{Name: "array", Convert: func(v any) (any, error) {
		switch t := v.(type) {
		case []any:
			return t, nil
		case []string:
			out := make([]any, 0, len(t))
			for _, s := range t {
				out = append(out, s)
			}
			return out, nil
		case string:
			parts := strings.Split(t, ",")
			out := make([]any, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					out = append(out, p)
				}
			}
			return out, nil
		}
		return nil, errors.New("must be array")
	}})
	// json: уже структурированное значение или текстовая кодировка
	r.Register(Type{Name: "json", Convert: func(v any) (any, error) {
		switch t := v.(type) {
		case map[string]any, []any:
			return t, nil
		case string:
			var out any
			if err := json.Unmarshal([]byte(t), &out); err != nil {
				return nil, errors.New("must be json")
			}
			return out, nil
		}
		return nil, errors.New("must be json")
	}})

	// --- трансформации ---
	r.Register(Type{Name: "slug", Convert: func(v any) (any, error) {
		s, err := toStringAny(v)
		if err != nil {
			return nil, err
		}
		s = strings.ToLower(strings.TrimSpace(s))
		s = slugWs.ReplaceAllString(s, "-")
		s = slugBad.ReplaceAllString(s, "")
		return s, nil
	}})

	// --- доменные параметризованные типы ---
	r.Register(IntRange("age", 0, 200))
	r.Register(IntEnum("gender", 0, 1, 2))
}

// IntRange — фабрика целочисленного типа с границами включительно.
func IntRange(name string, min, max int64) Type {
	return Type{Name: name, Convert: func(v any) (any, error) {
		n, err := toInt(v, false)
		if err != nil {
			return nil, err
		}
		if n < min || n > max {
			return nil, fmt.Errorf("must be in [%d, %d]", min, max)
		}
		return n, nil
	}}
}

// IntEnum — фабрика целочисленного перечисления.
func IntEnum(name string, allowed ...int64) Type {
	return Type{Name: name, Convert: func(v any) (any, error) {
		n, err := toInt(v, false)
		if err != nil {
			return nil, err
		}
		for _, a := range allowed {
			if n == a {
				return n, nil
			}
		}
		return nil, fmt.Errorf("must be one of %v", allowed)
	}}
}

// CatalogEnum — тип-категория по справочнику reference.
func CatalogEnum(name string, dir reference.EnumDirectory) Type {
	return Type{Name: name, Convert: func(v any) (any, error) {
		s, err := toStringAny(v)
		if err != nil {
			return nil, err
		}
		if !dir.Has(s) {
			return nil, fmt.Errorf("value %q is not in directory %q (allowed: %s)",
				s, name, strings.Join(dir.Codes(), ", "))
		}
		return s, nil
	}}
}

func patternType(name string, re *regexp.Regexp, msg string) Type {
	return Type{Name: name, Convert: func(v any) (any, error) {
		s, err := toStringAny(v)
		if err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if !re.MatchString(s) {
			return nil, errors.New(msg)
		}
		return s, nil
	}}
}

// encryptSecret: AES-GCM, nonce кладём перед шифртекстом, результат — base64.
func (r *Registry) encryptSecret(plain string) (string, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecodeSecret расшифровывает значение типа secret.
func (r *Registry) DecodeSecret(enc string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("secret value too short")
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// ==== строгие конвертеры ====

func toStringAny(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		// целые float печатаем без хвоста .000000
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10), nil
		}
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", errors.New("must be string")
	default:
		return fmt.Sprintf("%v", t), nil
	}
}

// toInt: целое обязано совпадать с самим собой как float — "1.5" не int.
func toInt(v any, unsigned bool) (int64, error) {
	var n int64
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, errors.New("must be integer")
		}
		n = int64(t)
	case int:
		n = int64(t)
	case int64:
		n = t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be integer")
		}
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil || float64(i) != f {
			return 0, errors.New("must be integer")
		}
		n = i
	default:
		return 0, errors.New("must be integer")
	}
	if unsigned && n < 0 {
		return 0, errors.New("must be non-negative integer")
	}
	return n, nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be number")
		}
		return f, nil
	default:
		return 0, errors.New("must be number")
	}
}

var htmlEsc = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

var htmlUnesc = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

// escapeHTML экранирует &<>"'. Уже экранированное сначала разворачиваем,
// иначе повторная конвертация двоила бы сущности ("&amp;amp;").
func escapeHTML(s string) string {
	return htmlEsc.Replace(htmlUnesc.Replace(s))
}
