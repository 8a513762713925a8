package mcpserver

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRemainingSeconds(t *testing.T) {
	if got := remainingSeconds(time.Now().Add(-time.Minute)); got != 0 {
		t.Errorf("expired token should report 0 seconds, got %d", got)
	}
	got := remainingSeconds(time.Now().Add(2 * time.Hour))
	if got < 7195 || got > 7200 {
		t.Errorf("unexpected remaining seconds: %d", got)
	}
}

func TestCleanArticleHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain fragment", "<p>你好</p>", "<p>你好</p>"},
		{
			"full document keeps body only",
			"<!DOCTYPE html><html><head><title>x</title></head><body><p>正文</p></body></html>",
			"<p>正文</p>",
		},
		{
			"script inside body removed",
			"<body><p>a</p><script>alert(1)</script><p>b</p></body>",
			"<p>a</p><p>b</p>",
		},
		{
			"style inside body removed",
			"<body><style>p{color:red}</style><p>a</p></body>",
			"<p>a</p>",
		},
		{
			"no body tag strips shell tags",
			"<html><head><meta charset=\"utf-8\"></head><p>内容</p></html>",
			"<p>内容</p>",
		},
		{
			"case insensitive",
			"<BODY><P>x</P><SCRIPT>y</SCRIPT></BODY>",
			"<P>x</P>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanArticleHTML(tt.in); got != tt.want {
				t.Errorf("cleanArticleHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateDraftArticle(t *testing.T) {
	news := draftArticleInput{Title: "t", Content: "c"}
	if msg := validateDraftArticle(news, 1); !strings.Contains(msg, "thumbMediaId") {
		t.Errorf("news without thumb = %q, want thumbMediaId error", msg)
	}

	news.ThumbMediaID = "thumb-1"
	if msg := validateDraftArticle(news, 1); msg != "" {
		t.Errorf("valid news article rejected: %q", msg)
	}

	pic := draftArticleInput{ArticleType: "newspic", Title: "t", Content: "c"}
	if msg := validateDraftArticle(pic, 2); !strings.Contains(msg, "第2篇") {
		t.Errorf("newspic without images = %q, want indexed error", msg)
	}
}

func TestToArticleCleansContentAndMapsImages(t *testing.T) {
	in := draftArticleInput{
		ArticleType:  "newspic",
		Title:        "标题",
		Content:      "<body><p>正文</p></body>",
		ThumbMediaID: "thumb",
	}
	in.ImageInfo = &draftImageInfoInput{
		ImageList: []draftImageItemInput{
			{ImageMediaID: "img-1"},
			{ImageMediaID: ""},
			{ImageMediaID: "img-2"},
		},
	}

	got := toArticle(in)
	if got.Content != "<p>正文</p>" {
		t.Errorf("Content = %q, want cleaned fragment", got.Content)
	}
	if got.ImageInfo == nil || len(got.ImageInfo.ImageList) != 2 {
		t.Fatalf("ImageInfo = %+v, want 2 images with empty IDs dropped", got.ImageInfo)
	}
	if got.ImageInfo.ImageList[0].ImageMediaID != "img-1" || got.ImageInfo.ImageList[1].ImageMediaID != "img-2" {
		t.Errorf("ImageList = %+v", got.ImageInfo.ImageList)
	}
}

func TestReadFileInput(t *testing.T) {
	t.Run("base64 wins", func(t *testing.T) {
		data, filename, err := readFileInput("/nonexistent", base64.StdEncoding.EncodeToString([]byte("hello")))
		if err != nil {
			t.Fatalf("readFileInput() error: %v", err)
		}
		if string(data) != "hello" || filename != "" {
			t.Errorf("got (%q, %q)", data, filename)
		}
	})

	t.Run("file path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pic.png")
		if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
			t.Fatal(err)
		}
		data, filename, err := readFileInput(path, "")
		if err != nil {
			t.Fatalf("readFileInput() error: %v", err)
		}
		if len(data) != 3 || filename != "pic.png" {
			t.Errorf("got (%d bytes, %q)", len(data), filename)
		}
	})

	t.Run("neither provided", func(t *testing.T) {
		if _, _, err := readFileInput("", ""); err == nil {
			t.Error("expected error when both inputs are empty")
		}
	})

	t.Run("bad base64", func(t *testing.T) {
		if _, _, err := readFileInput("", "not-base64!!!"); err == nil {
			t.Error("expected error for invalid base64")
		}
	})
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("中文内容很长", 3); got != "中文内..." {
		t.Errorf("truncateRunes = %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("truncateRunes = %q", got)
	}
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret("abcdefghijk"); got != "abcdefgh..." {
		t.Errorf("maskSecret = %q", got)
	}
	if got := maskSecret("short"); got != "..." {
		t.Errorf("maskSecret = %q", got)
	}
}
