package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"berkut/internal/reference"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	enums := map[string]reference.EnumDirectory{
		"country": {
			Name: "country",
			Items: []reference.EnumItem{
				{Code: "ru", Name: "Россия"},
				{Code: "by", Name: "Беларусь"},
			},
		},
	}
	return NewRegistry([]byte("test-key"), enums)
}

func TestStringEscaping(t *testing.T) {
	r := testRegistry(t)

	got, err := r.Convert("string", `  <b>Bob & "Alice"</b>  `)
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;Bob &amp; &quot;Alice&quot;&lt;/b&gt;", got)

	// повторная конвертация идемпотентна, в том числе для экранируемых
	// символов: хранимое значение не должно накапливать &amp;amp;
	for _, in := range []any{"just a name", "Bob & Alice", "<script>", `a "b" & 'c'`} {
		first, err := r.Convert("string", in)
		require.NoError(t, err)
		second, err := r.Convert("string", first)
		require.NoError(t, err)
		assert.Equal(t, first, second, "input %v", in)
	}
}

func TestIntConversion(t *testing.T) {
	r := testRegistry(t)

	cases := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{in: float64(42), want: 42},
		{in: 42, want: 42},
		{in: "42", want: 42},
		{in: "  7 ", want: 7},
		{in: float64(1.5), wantErr: true},
		{in: "1.5", wantErr: true},
		{in: "abc", wantErr: true},
		{in: true, wantErr: true},
	}
	for _, c := range cases {
		got, err := r.Convert("int", c.in)
		if c.wantErr {
			assert.Error(t, err, "in=%v", c.in)
			continue
		}
		require.NoError(t, err, "in=%v", c.in)
		assert.Equal(t, c.want, got, "in=%v", c.in)
	}

	_, err := r.Convert("uint", -1)
	assert.Error(t, err)
	got, err := r.Convert("uint", "15")
	require.NoError(t, err)
	assert.Equal(t, int64(15), got)
}

func TestFloatRounding(t *testing.T) {
	r := testRegistry(t)

	got, err := r.Convert("money", 19.999)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got)

	got, err = r.Convert("percent", "33.333")
	require.NoError(t, err)
	assert.Equal(t, 33.33, got)

	// currency хранит полную точность
	got, err = r.Convert("currency", 0.123456)
	require.NoError(t, err)
	assert.Equal(t, 0.123456, got)
}

func TestBoolStrict(t *testing.T) {
	r := testRegistry(t)

	got, err := r.Convert("bool", true)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = r.Convert("bool", "False")
	require.NoError(t, err)
	assert.Equal(t, false, got)

	for _, bad := range []any{1, 0, "yes", "", nil} {
		_, err := r.Convert("bool", bad)
		assert.Error(t, err, "in=%v", bad)
	}
}

func TestDatetimeCanonical(t *testing.T) {
	r := testRegistry(t)

	for _, in := range []string{
		"2024-03-05T10:20:30Z",
		"2024-03-05T10:20:30",
		"2024-03-05 10:20:30",
	} {
		got, err := r.Convert("datetime", in)
		require.NoError(t, err, "in=%q", in)
		assert.Equal(t, "2024-03-05T10:20:30Z", got, "in=%q", in)
	}

	got, err := r.Convert("datetime", "2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05T00:00:00Z", got)

	_, err = r.Convert("datetime", "вчера")
	assert.Error(t, err)

	// канонический вид стабилен при повторной конвертации
	again, err := r.Convert("datetime", got)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestTimePattern(t *testing.T) {
	r := testRegistry(t)

	for _, okVal := range []string{"00:00", "23:59", "12:30:45"} {
		got, err := r.Convert("time", okVal)
		require.NoError(t, err)
		assert.Equal(t, okVal, got)
	}
	for _, bad := range []string{"24:00", "12:60", "1230", ""} {
		_, err := r.Convert("time", bad)
		assert.Error(t, err, "in=%q", bad)
	}
}

func TestPatternTypes(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Convert("email", "bob@example.com")
	assert.NoError(t, err)
	_, err = r.Convert("email", "not-an-email")
	assert.Error(t, err)

	_, err = r.Convert("phone", "+7 (912) 345-67-89")
	assert.NoError(t, err)
	_, err = r.Convert("phone", "abc")
	assert.Error(t, err)

	_, err = r.Convert("url", "https://example.com/x")
	assert.NoError(t, err)
	_, err = r.Convert("url", "example")
	assert.Error(t, err)

	_, err = r.Convert("ipaddress", "10.0.0.1")
	assert.NoError(t, err)
	_, err = r.Convert("ipaddress", "10.0.0.256")
	assert.Error(t, err)

	_, err = r.Convert("color", "#fff")
	assert.NoError(t, err)
	_, err = r.Convert("color", "fff")
	assert.Error(t, err)
}

func TestSlug(t *testing.T) {
	r := testRegistry(t)

	got, err := r.Convert("slug", "  Hello,  Wörld! ")
	require.NoError(t, err)
	assert.Equal(t, "hello-wrld", got)

	// идемпотентность: готовый slug не меняется
	again, err := r.Convert("slug", got)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestArrayAndJSON(t *testing.T) {
	r := testRegistry(t)

	got, err := r.Convert("array", "a, b,, c")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, got)

	got, err = r.Convert("array", []any{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, got)

	_, err = r.Convert("array", 5)
	assert.Error(t, err)

	got, err = r.Convert("json", `{"a": 1}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, got)

	_, err = r.Convert("json", "{broken")
	assert.Error(t, err)
}

func TestPasswordDeterministic(t *testing.T) {
	r := testRegistry(t)

	h1, err := r.Convert("password", "hunter2")
	require.NoError(t, err)
	h2, err := r.Convert("password", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, "hunter2", h1)

	// другой ключ — другой хэш
	other := NewRegistry([]byte("other-key"), nil)
	h3, err := other.Convert("password", "hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestSecretRoundTrip(t *testing.T) {
	r := testRegistry(t)

	enc, err := r.Convert("secret", "top secret value")
	require.NoError(t, err)
	assert.NotEqual(t, "top secret value", enc)

	plain, err := r.DecodeSecret(enc.(string))
	require.NoError(t, err)
	assert.Equal(t, "top secret value", plain)

	// каждый вызов даёт новый nonce и новый шифртекст
	enc2, err := r.Convert("secret", "top secret value")
	require.NoError(t, err)
	assert.NotEqual(t, enc, enc2)

	_, err = other(t).DecodeSecret(enc.(string))
	assert.Error(t, err)
}

func other(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry([]byte("wrong-key"), nil)
}

func TestCatalogEnum(t *testing.T) {
	r := testRegistry(t)

	got, err := r.Convert("country", "ru")
	require.NoError(t, err)
	assert.Equal(t, "ru", got)

	// в ошибке перечисляем допустимые коды
	_, err = r.Convert("country", "xx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ru, by")
}

func TestDomainTypes(t *testing.T) {
	r := testRegistry(t)

	got, err := r.Convert("age", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got)
	_, err = r.Convert("age", 250)
	assert.Error(t, err)

	_, err = r.Convert("gender", 1)
	assert.NoError(t, err)
	_, err = r.Convert("gender", 5)
	assert.Error(t, err)
}

func TestOperatorInjectionGuard(t *testing.T) {
	r := testRegistry(t)

	for _, bad := range []any{
		map[string]any{"$gt": 0},
		map[string]any{"nested": map[string]any{"$regex": ".*"}},
		[]any{map[string]any{"$in": []any{1}}},
	} {
		_, err := ConvertField(r, "json", bad)
		assert.ErrorIs(t, err, ErrOperatorInjection)
	}

	// обычные значения проходят
	got, err := ConvertField(r, "json", map[string]any{"price": 10})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"price": 10}, got)

	assert.True(t, LooksLikeOperator(map[string]any{"$ne": 1}))
	assert.False(t, LooksLikeOperator("plain"))
}

func TestUnknownType(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Convert("no_such_type", "x")
	assert.Error(t, err)
	assert.False(t, r.Has("no_such_type"))
	assert.True(t, r.Has("string"))
}
