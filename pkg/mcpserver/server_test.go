package mcpserver

import (
	"context"
	"os"
	"os/exec"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/oabridge/oabridge/pkg/store"
)

const (
	helperEnv   = "OABRIDGE_MCP_TEST_HELPER"
	helperDBEnv = "OABRIDGE_MCP_TEST_DB"
)

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		runHelperServer()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runHelperServer() {
	st, err := store.Open(os.Getenv(helperDBEnv))
	if err != nil {
		os.Exit(1)
	}
	defer st.Close()

	if err := New(st, "test").Run(context.Background()); err != nil {
		os.Exit(1)
	}
}

func connectHelper(t *testing.T) *mcp.ClientSession {
	t.Helper()

	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(),
		helperEnv+"=1",
		helperDBEnv+"="+t.TempDir()+"/mcp.db",
	)
	cmd.Stderr = os.Stderr

	client := mcp.NewClient(&mcp.Implementation{Name: "oabridge-test", Version: "v0.0.1"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)

	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callText(t *testing.T, session *mcp.ClientSession, tool string, args map[string]any) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s) error: %v", tool, err)
	}
	if len(result.Content) != 1 {
		t.Fatalf("CallTool(%s) got %d content blocks, want 1", tool, len(result.Content))
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s) content is %T, want TextContent", tool, result.Content[0])
	}
	return tc.Text
}

func TestToolDiscovery(t *testing.T) {
	session := connectHelper(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	want := []string{
		"wechat_auth",
		"wechat_draft",
		"wechat_media_upload",
		"wechat_permanent_media",
		"wechat_publish",
		"wechat_upload_img",
	}
	if len(names) != len(want) {
		t.Fatalf("ListTools() got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ListTools() got %v, want %v", names, want)
		}
	}
}

func TestAuthConfigureAndGetConfig(t *testing.T) {
	session := connectHelper(t)

	got := callText(t, session, "wechat_auth", map[string]any{
		"action":    "configure",
		"appId":     "wx1234567890",
		"appSecret": "secret-value-long-enough",
		"token":     "verify-token",
	})
	if !strings.Contains(got, "微信公众号配置已成功保存") {
		t.Fatalf("configure result missing confirmation: %s", got)
	}
	if !strings.Contains(got, "wx1234567890") {
		t.Fatalf("configure result missing app id: %s", got)
	}

	got = callText(t, session, "wechat_auth", map[string]any{"action": "get_config"})
	if !strings.Contains(got, "wx1234567890") {
		t.Fatalf("get_config result missing app id: %s", got)
	}
	if strings.Contains(got, "secret-value-long-enough") {
		t.Fatalf("get_config leaked the full secret: %s", got)
	}
	if !strings.Contains(got, "secret-v...") {
		t.Fatalf("get_config missing masked secret: %s", got)
	}
	if !strings.Contains(got, "verify-token") {
		t.Fatalf("get_config missing token: %s", got)
	}
}

func TestUnconfiguredToolsReportSetupHint(t *testing.T) {
	session := connectHelper(t)

	got := callText(t, session, "wechat_draft", map[string]any{"action": "count"})
	if !strings.Contains(got, "尚未配置微信公众号信息") {
		t.Fatalf("expected setup hint, got: %s", got)
	}
}

func TestInputValidationWithoutAPI(t *testing.T) {
	session := connectHelper(t)

	cases := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"wechat_auth", map[string]any{"action": "configure"}, "appId 和 appSecret 是必需的"},
		{"wechat_auth", map[string]any{"action": "bogus"}, "未知操作: bogus"},
		{"wechat_media_upload", map[string]any{"action": "upload"}, "type 是必需的"},
		{"wechat_media_upload", map[string]any{"action": "get"}, "mediaId 是必需的"},
		{"wechat_media_upload", map[string]any{"action": "list"}, "临时素材列表功能暂不支持"},
		{"wechat_permanent_media", map[string]any{"action": "add", "type": "news"}, "add操作只支持以下类型"},
		{"wechat_permanent_media", map[string]any{"action": "add", "type": "video", "fileData": "aGk="}, "title 是必需的"},
		{"wechat_permanent_media", map[string]any{"action": "list"}, "type 是必需的"},
		{"wechat_permanent_media", map[string]any{"action": "list", "type": "image", "count": 50}, "count 参数必须在 1 到 20 之间"},
		{"wechat_draft", map[string]any{"action": "add"}, "文章内容不能为空"},
		{"wechat_draft", map[string]any{"action": "get"}, "草稿ID不能为空"},
		{"wechat_draft", map[string]any{
			"action":   "add",
			"articles": []map[string]any{{"title": "t", "content": "c"}},
		}, "必须提供封面图片ID"},
		{"wechat_publish", map[string]any{"action": "submit"}, "mediaId 是必需的"},
		{"wechat_publish", map[string]any{"action": "get"}, "publishId 是必需的"},
		{"wechat_publish", map[string]any{"action": "delete"}, "articleId 是必需的"},
	}

	for _, tc := range cases {
		got := callText(t, session, tc.tool, tc.args)
		if !strings.Contains(got, tc.want) {
			t.Errorf("%s %v = %q, want substring %q", tc.tool, tc.args, got, tc.want)
		}
	}
}
