package security

import (
	"strings"
	"testing"
)

// TestSanitizeBody_AllowedTags は許可タグが通過することを検証する。
func TestSanitizeBody_AllowedTags(t *testing.T) {
	s := NewCommentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{
			name:         "pタグが許可される",
			input:        "<p>テスト段落</p>",
			wantContains: []string{"<p>テスト段落</p>"},
		},
		{
			name:         "強調タグが許可される",
			input:        "<strong>太字</strong>と<em>斜体</em>",
			wantContains: []string{"<strong>太字</strong>", "<em>斜体</em>"},
		},
		{
			name:         "codeタグが許可される",
			input:        "<code>go test ./...</code>",
			wantContains: []string{"<code>go test ./...</code>"},
		},
		{
			name:         "blockquoteタグが許可される",
			input:        "<blockquote>引用</blockquote>",
			wantContains: []string{"<blockquote>引用</blockquote>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.SanitizeBody(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("SanitizeBody(%q) = %q, want contains %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitizeBody_RemovesDangerousContent は危険なタグと属性が除去されることを検証する。
func TestSanitizeBody_RemovesDangerousContent(t *testing.T) {
	s := NewCommentSanitizer()

	tests := []struct {
		name       string
		input      string
		notContain []string
	}{
		{"scriptタグ", `<script>alert("xss")</script>こんにちは`, []string{"<script", "alert"}},
		{"iframeタグ", `<iframe src="https://evil.example"></iframe>`, []string{"<iframe"}},
		{"styleタグ", `<style>body{display:none}</style>`, []string{"<style", "display"}},
		{"onclick属性", `<p onclick="steal()">本文</p>`, []string{"onclick", "steal"}},
		{"javascriptスキーム", `<a href="javascript:alert(1)">x</a>`, []string{"javascript:"}},
		{"imgタグ", `<img src="https://example.com/a.png">`, []string{"<img"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.SanitizeBody(tt.input)
			for _, bad := range tt.notContain {
				if strings.Contains(got, bad) {
					t.Errorf("SanitizeBody(%q) = %q, must not contain %q", tt.input, got, bad)
				}
			}
		})
	}
}

// TestSanitizeBody_LinksAreNofollow は外部リンクにrel属性が付与されることを検証する。
func TestSanitizeBody_LinksAreNofollow(t *testing.T) {
	s := NewCommentSanitizer()

	got := s.SanitizeBody(`<a href="https://example.com/post">参考</a>`)
	for _, want := range []string{`href="https://example.com/post"`, "nofollow", "noopener", `target="_blank"`} {
		if !strings.Contains(got, want) {
			t.Errorf("SanitizeBody() = %q, want contains %q", got, want)
		}
	}
}

// TestSanitizeBody_TrimsWhitespace は前後の空白が除去されることを検証する。
func TestSanitizeBody_TrimsWhitespace(t *testing.T) {
	s := NewCommentSanitizer()

	if got := s.SanitizeBody("  <script>x</script>  "); got != "" {
		t.Errorf("SanitizeBody() = %q, want empty", got)
	}
}

// TestSanitizePlain_StripsAllTags はプレーンテキスト化で全タグが除去されることを検証する。
func TestSanitizePlain_StripsAllTags(t *testing.T) {
	s := NewCommentSanitizer()

	tests := []struct {
		input string
		want  string
	}{
		{"山田太郎", "山田太郎"},
		{"<b>山田</b>", "山田"},
		{"<script>alert(1)</script>匿名", "匿名"},
		{"Tom & Jerry", "Tom & Jerry"},
		{"  spaced  ", "spaced"},
	}

	for _, tt := range tests {
		if got := s.SanitizePlain(tt.input); got != tt.want {
			t.Errorf("SanitizePlain(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// TestSanitize_Idempotent は同一入力に対して同一出力を返すことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	s := NewCommentSanitizer()
	input := `<p>本文 <a href="https://example.com">リンク</a></p>`

	first := s.SanitizeBody(input)
	if second := s.SanitizeBody(input); first != second {
		t.Errorf("SanitizeBody is not deterministic: %q vs %q", first, second)
	}
}
