package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/oabridge/oabridge/pkg/store"
	"github.com/oabridge/oabridge/pkg/wechat"
)

const (
	listCountMin = 1
	listCountMax = 20
)

// Tool failures are reported as result text rather than protocol errors,
// so the calling model can read and react to them.
func text(msg string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}, nil, nil
}

func textf(format string, args ...any) (*mcp.CallToolResult, any, error) {
	return text(fmt.Sprintf(format, args...))
}

type authInput struct {
	Action         string `json:"action" jsonschema:"操作类型：configure(配置), get_token(获取令牌), refresh_token(刷新令牌), get_config(获取配置)"`
	AppID          string `json:"appId,omitempty" jsonschema:"微信公众号 AppID（配置时必需）"`
	AppSecret      string `json:"appSecret,omitempty" jsonschema:"微信公众号 AppSecret（配置时必需）"`
	Token          string `json:"token,omitempty" jsonschema:"微信公众号 Token（可选，用于消息验证）"`
	EncodingAESKey string `json:"encodingAESKey,omitempty" jsonschema:"微信公众号 EncodingAESKey（可选，用于消息加密）"`
}

func (s *Server) handleAuth(ctx context.Context, _ *mcp.CallToolRequest, in authInput) (*mcp.CallToolResult, any, error) {
	switch in.Action {
	case "configure":
		if in.AppID == "" || in.AppSecret == "" {
			return text("错误：配置时 appId 和 appSecret 是必需的")
		}
		err := s.store.SaveAccount(store.Account{
			AppID:          in.AppID,
			AppSecret:      in.AppSecret,
			Token:          in.Token,
			EncodingAESKey: in.EncodingAESKey,
		})
		if err != nil {
			return textf("认证操作失败: %v", err)
		}
		s.resetClient()
		return textf("微信公众号配置已成功保存\n- AppID: %s\n- Token: %s\n- EncodingAESKey: %s",
			in.AppID, orUnset(in.Token), orUnset(in.EncodingAESKey))

	case "get_token":
		client, err := s.apiClient()
		if err != nil {
			return textf("认证操作失败: %v", err)
		}
		token, expiresAt, err := client.TokenInfo(ctx)
		if err != nil {
			return textf("认证操作失败: %v", err)
		}
		return textf("Access Token 信息:\n- Token: %s\n- 剩余有效时间: %d 秒",
			token, remainingSeconds(expiresAt))

	case "refresh_token":
		client, err := s.apiClient()
		if err != nil {
			return textf("认证操作失败: %v", err)
		}
		token, expiresAt, err := client.RefreshToken(ctx)
		if err != nil {
			return textf("认证操作失败: %v", err)
		}
		return textf("Access Token 已刷新:\n- 新 Token: %s\n- 有效时间: %d 秒",
			token, remainingSeconds(expiresAt))

	case "get_config":
		acct, err := s.store.DefaultAccount()
		if err != nil {
			return textf("认证操作失败: %v", err)
		}
		if acct == nil {
			return text("尚未配置微信公众号信息，请先使用 configure 操作进行配置。")
		}
		return textf("当前微信公众号配置:\n- AppID: %s\n- AppSecret: %s\n- Token: %s\n- EncodingAESKey: %s",
			acct.AppID, maskSecret(acct.AppSecret), orUnset(acct.Token), orUnset(acct.EncodingAESKey))

	default:
		return textf("未知操作: %s", in.Action)
	}
}

type tempMediaInput struct {
	Action       string `json:"action" jsonschema:"操作类型：upload-上传素材, get-获取素材, list-列表素材"`
	Type         string `json:"type,omitempty" jsonschema:"素材类型：image-图片, voice-语音, video-视频, thumb-缩略图"`
	FilePath     string `json:"filePath,omitempty" jsonschema:"本地文件路径（upload操作可选）"`
	FileData     string `json:"fileData,omitempty" jsonschema:"Base64编码的文件数据（upload操作可选，与filePath二选一）"`
	FileName     string `json:"fileName,omitempty" jsonschema:"文件名（upload操作可选）"`
	MediaID      string `json:"mediaId,omitempty" jsonschema:"媒体文件ID（get操作必需）"`
	Title        string `json:"title,omitempty" jsonschema:"视频素材的标题（video类型upload操作可选）"`
	Introduction string `json:"introduction,omitempty" jsonschema:"视频素材的描述（video类型upload操作可选）"`
}

func (s *Server) handleTempMedia(ctx context.Context, _ *mcp.CallToolRequest, in tempMediaInput) (*mcp.CallToolResult, any, error) {
	switch in.Action {
	case "upload":
		if in.Type == "" {
			return text("错误：上传素材时 type 是必需的")
		}
		data, filename, err := readFileInput(in.FilePath, in.FileData)
		if err != nil {
			return textf("素材操作失败: %v", err)
		}
		if filename == "" {
			filename = in.FileName
		}
		if filename == "" {
			filename = "media." + in.Type
		}
		client, err := s.apiClient()
		if err != nil {
			return textf("素材操作失败: %v", err)
		}
		result, err := client.UploadTempMedia(ctx, in.Type, filename, data)
		if err != nil {
			return textf("素材操作失败: %v", err)
		}
		return textf("临时素材上传成功！\n素材ID: %s\n类型: %s\n创建时间: %d",
			result.MediaID, result.Type, result.CreatedAt)

	case "get":
		if in.MediaID == "" {
			return text("错误：获取素材时 mediaId 是必需的")
		}
		client, err := s.apiClient()
		if err != nil {
			return textf("素材操作失败: %v", err)
		}
		data, _, err := client.FetchTempMedia(ctx, in.MediaID)
		if err != nil {
			return textf("素材操作失败: %v", err)
		}
		return textf("获取临时素材成功！\n素材ID: %s\n素材大小: %d 字节", in.MediaID, len(data))

	case "list":
		return text("临时素材列表功能暂不支持，临时素材有效期为3天，建议使用永久素材功能")

	default:
		return textf("未知操作: %s", in.Action)
	}
}

type uploadImgInput struct {
	FilePath string `json:"filePath,omitempty" jsonschema:"本地文件路径（仅支持jpg/png格式，大小必须在1MB以下）"`
	FileData string `json:"fileData,omitempty" jsonschema:"Base64编码的文件数据（与filePath二选一）"`
}

func (s *Server) handleUploadImg(ctx context.Context, _ *mcp.CallToolRequest, in uploadImgInput) (*mcp.CallToolResult, any, error) {
	data, filename, err := readFileInput(in.FilePath, in.FileData)
	if err != nil {
		return textf("上传图片失败: %v", err)
	}
	if filename == "" {
		filename = "image.jpg"
	}
	client, err := s.apiClient()
	if err != nil {
		return textf("上传图片失败: %v", err)
	}
	url, err := client.UploadArticleImage(ctx, filename, data)
	if err != nil {
		return textf("上传图片失败: %v", err)
	}
	return textf("图片上传成功！\n图片URL: %s\n注意：此图片不占用素材库限制", url)
}

var permanentAddTypes = []string{"image", "voice", "video", "thumb"}
var permanentListTypes = []string{"image", "video", "voice", "news"}

type permanentMediaInput struct {
	Action       string `json:"action" jsonschema:"操作类型：add(添加永久素材), get(根据mediaId获取单个素材), delete(删除永久素材), list(分类型获取素材列表), count(获取永久素材总数)"`
	Type         string `json:"type,omitempty" jsonschema:"素材类型：add操作支持image/voice/video/thumb，list操作支持image/video/voice/news（list操作时必填）"`
	FilePath     string `json:"filePath,omitempty" jsonschema:"本地文件路径（add操作时使用）"`
	FileData     string `json:"fileData,omitempty" jsonschema:"Base64编码的文件数据（add操作时使用）"`
	MediaID      string `json:"mediaId,omitempty" jsonschema:"媒体文件ID（get和delete操作时必需）"`
	Title        string `json:"title,omitempty" jsonschema:"视频素材的标题（add操作上传video类型时必填）"`
	Introduction string `json:"introduction,omitempty" jsonschema:"视频素材的描述（add操作上传video类型时可选）"`
	Offset       int    `json:"offset,omitempty" jsonschema:"偏移量（list操作时使用，从0开始）"`
	Count        int    `json:"count,omitempty" jsonschema:"数量（list操作时使用，取值在1到20之间）"`
}

func (s *Server) handlePermanentMedia(ctx context.Context, _ *mcp.CallToolRequest, in permanentMediaInput) (*mcp.CallToolResult, any, error) {
	switch in.Action {
	case "add":
		return s.permanentMediaAdd(ctx, in)
	case "get":
		return s.permanentMediaGet(ctx, in.MediaID)
	case "delete":
		if in.MediaID == "" {
			return text("错误：删除永久素材时 mediaId 是必需的（可通过获取素材列表获取media_id）")
		}
		client, err := s.apiClient()
		if err != nil {
			return textf("永久素材操作失败: %v", err)
		}
		if err := client.DeletePermanentMedia(ctx, in.MediaID); err != nil {
			return textf("删除永久素材失败：%v\n素材ID: %s", err, in.MediaID)
		}
		return textf("永久素材删除成功！\n素材ID: %s", in.MediaID)
	case "list":
		return s.permanentMediaList(ctx, in)
	case "count":
		return s.permanentMediaCount(ctx)
	default:
		return textf("未知操作: %s", in.Action)
	}
}

func (s *Server) permanentMediaAdd(ctx context.Context, in permanentMediaInput) (*mcp.CallToolResult, any, error) {
	if in.Type == "" {
		return text("错误：添加永久素材时 type 是必需的（image/voice/video/thumb）")
	}
	if !contains(permanentAddTypes, in.Type) {
		return textf("错误：add操作只支持以下类型: %s（图文素材请使用草稿接口）",
			strings.Join(permanentAddTypes, ", "))
	}
	if in.Type == "video" && in.Title == "" {
		return text("错误：上传视频素材时 title 是必需的")
	}

	data, filename, err := readFileInput(in.FilePath, in.FileData)
	if err != nil {
		return textf("永久素材操作失败: %v", err)
	}
	if filename == "" {
		filename = "media." + in.Type
	}

	client, err := s.apiClient()
	if err != nil {
		return textf("永久素材操作失败: %v", err)
	}
	result, err := client.UploadPermanentMedia(ctx, in.Type, filename, data, in.Title, in.Introduction)
	if err != nil {
		return textf("永久素材操作失败: %v", err)
	}

	lines := []string{
		"永久素材上传成功！",
		"素材ID: " + result.MediaID,
		"类型: " + in.Type,
	}
	if in.Type == "image" && result.URL != "" {
		lines = append(lines, "图片URL: "+result.URL)
	}
	return text(strings.Join(lines, "\n"))
}

func (s *Server) permanentMediaGet(ctx context.Context, mediaID string) (*mcp.CallToolResult, any, error) {
	if mediaID == "" {
		return text("错误：根据mediaId获取单个永久素材时，mediaId 是必需的")
	}
	client, err := s.apiClient()
	if err != nil {
		return textf("永久素材操作失败: %v", err)
	}
	data, contentType, err := client.FetchPermanentMedia(ctx, mediaID)
	if err != nil {
		return textf("永久素材操作失败: %v", err)
	}
	if strings.Contains(contentType, "json") || strings.Contains(contentType, "text/plain") {
		return textf("获取永久素材成功！\n素材ID: %s\n内容:\n%s", mediaID, string(data))
	}
	return textf("获取永久素材成功！\n素材ID: %s\n素材类型: 文件素材\n素材大小: %d 字节", mediaID, len(data))
}

func (s *Server) permanentMediaList(ctx context.Context, in permanentMediaInput) (*mcp.CallToolResult, any, error) {
	if in.Type == "" {
		return text("错误：获取永久素材列表时 type 是必需的（image/video/voice/news）")
	}
	if !contains(permanentListTypes, in.Type) {
		return textf("错误：list操作只支持以下类型: %s", strings.Join(permanentListTypes, ", "))
	}
	if in.Offset < 0 {
		return text("错误：offset 参数必须大于等于 0")
	}
	count := in.Count
	if count == 0 {
		count = listCountMax
	}
	if count < listCountMin || count > listCountMax {
		return textf("错误：count 参数必须在 %d 到 %d 之间", listCountMin, listCountMax)
	}

	client, err := s.apiClient()
	if err != nil {
		return textf("永久素材操作失败: %v", err)
	}
	result, err := client.ListPermanentMedia(ctx, in.Type, in.Offset, count)
	if err != nil {
		return textf("永久素材操作失败: %v", err)
	}

	lines := []string{
		fmt.Sprintf("永久素材列表（类型: %s）", in.Type),
		fmt.Sprintf("总数: %d", result.TotalCount),
		fmt.Sprintf("本次获取: %d", result.ItemCount),
		fmt.Sprintf("偏移位置: %d", in.Offset),
		"",
	}
	if len(result.Items) == 0 {
		lines = append(lines, "暂无素材")
	}
	for i, item := range result.Items {
		lines = append(lines, fmt.Sprintf("【素材 %d】", i+1))
		lines = append(lines, "素材ID: "+item.MediaID)
		lines = append(lines, "更新时间: "+formatTimestamp(item.UpdateTime))
		if item.Content != nil && len(item.Content.NewsItem) > 0 {
			lines = append(lines, fmt.Sprintf("文章数量: %d", len(item.Content.NewsItem)))
			for j, article := range item.Content.NewsItem {
				lines = append(lines, formatArticleBrief(article, j+1, "  ")...)
			}
		} else {
			if item.Name != "" {
				lines = append(lines, "文件名: "+item.Name)
			}
			if item.URL != "" {
				lines = append(lines, "素材URL: "+item.URL)
			}
		}
		lines = append(lines, "")
	}
	return text(strings.Join(lines, "\n"))
}

func (s *Server) permanentMediaCount(ctx context.Context) (*mcp.CallToolResult, any, error) {
	client, err := s.apiClient()
	if err != nil {
		return textf("永久素材操作失败: %v", err)
	}
	count, err := client.CountMaterials(ctx)
	if err != nil {
		return textf("获取永久素材总数失败：%v", err)
	}
	total := count.ImageCount + count.VoiceCount + count.VideoCount + count.NewsCount
	return textf("永久素材总数统计\n图片素材: %d 个\n语音素材: %d 个\n视频素材: %d 个\n图文素材: %d 个\n总计: %d 个",
		count.ImageCount, count.VoiceCount, count.VideoCount, count.NewsCount, total)
}

type draftArticleInput struct {
	ArticleType        string               `json:"articleType,omitempty" jsonschema:"文章类型：news(图文消息), newspic(图片消息)，默认为news"`
	Title              string               `json:"title" jsonschema:"文章标题"`
	Author             string               `json:"author,omitempty" jsonschema:"作者"`
	Digest             string               `json:"digest,omitempty" jsonschema:"摘要"`
	Content            string               `json:"content" jsonschema:"文章内容"`
	ContentSourceURL   string               `json:"contentSourceUrl,omitempty" jsonschema:"原文链接"`
	ThumbMediaID       string               `json:"thumbMediaId,omitempty" jsonschema:"封面图片媒体ID（必须是永久MediaID，图文消息时必填）"`
	ShowCoverPic       int                  `json:"showCoverPic,omitempty" jsonschema:"是否显示封面图片"`
	NeedOpenComment    int                  `json:"needOpenComment,omitempty" jsonschema:"是否开启评论，0不打开(默认)，1打开"`
	OnlyFansCanComment int                  `json:"onlyFansCanComment,omitempty" jsonschema:"是否粉丝才可评论，0所有人可评论(默认)，1粉丝才可评论"`
	PicCrop2351        string               `json:"picCrop2351,omitempty" jsonschema:"封面裁剪为2.35:1规格的坐标，格式：X1_Y1_X2_Y2"`
	PicCrop11          string               `json:"picCrop11,omitempty" jsonschema:"封面裁剪为1:1规格的坐标，格式：X1_Y1_X2_Y2"`
	ImageInfo          *draftImageInfoInput `json:"imageInfo,omitempty" jsonschema:"图片消息里的图片相关信息（图片消息时必需）"`
}

type draftImageInfoInput struct {
	ImageList []draftImageItemInput `json:"imageList" jsonschema:"图片列表，最多20张"`
}

type draftImageItemInput struct {
	ImageMediaID string `json:"imageMediaId" jsonschema:"图片素材ID（必须是永久MediaID）"`
}

type draftInput struct {
	Action    string              `json:"action" jsonschema:"操作类型：add(创建), get(获取), delete(删除), list(列表), count(统计), update(更新), switch(设置/查询草稿箱开关)"`
	CheckOnly bool                `json:"checkonly,omitempty" jsonschema:"仅查询开关状态时传true（switch操作时使用）"`
	MediaID   string              `json:"mediaId,omitempty" jsonschema:"草稿 Media ID（获取、删除、更新时必需）"`
	Articles  []draftArticleInput `json:"articles,omitempty" jsonschema:"文章列表（创建/更新时必需）"`
	Index     *int                `json:"index,omitempty" jsonschema:"要更新的文章在图文消息中的位置，第一篇为0"`
	Offset    int                 `json:"offset,omitempty" jsonschema:"偏移量（列表时使用，从0开始）"`
	Count     int                 `json:"count,omitempty" jsonschema:"数量（列表时使用，取值在1到20之间）"`
	NoContent bool                `json:"noContent,omitempty" jsonschema:"是否不返回content字段（列表时使用）"`
}

func (s *Server) handleDraft(ctx context.Context, _ *mcp.CallToolRequest, in draftInput) (*mcp.CallToolResult, any, error) {
	switch in.Action {
	case "add":
		if len(in.Articles) == 0 {
			return text("错误：文章内容不能为空")
		}
		articles := make([]wechat.Article, 0, len(in.Articles))
		for i, a := range in.Articles {
			if msg := validateDraftArticle(a, i+1); msg != "" {
				return text(msg)
			}
			articles = append(articles, toArticle(a))
		}
		client, err := s.apiClient()
		if err != nil {
			return textf("草稿操作失败: %v", err)
		}
		mediaID, err := client.CreateDraft(ctx, articles)
		if err != nil {
			return textf("草稿操作失败: %v", err)
		}
		return textf("草稿创建成功！\n草稿ID: %s\n包含文章数: %d", mediaID, len(articles))

	case "get":
		if in.MediaID == "" {
			return text("错误：草稿ID不能为空")
		}
		client, err := s.apiClient()
		if err != nil {
			return textf("草稿操作失败: %v", err)
		}
		articles, err := client.GetDraft(ctx, in.MediaID)
		if err != nil {
			return textf("草稿操作失败: %v", err)
		}
		if len(articles) == 0 {
			return textf("获取草稿成功！\n草稿ID: %s\n内容: 无", in.MediaID)
		}
		lines := []string{
			"获取草稿成功！",
			"草稿ID: " + in.MediaID,
			fmt.Sprintf("包含文章数: %d", len(articles)),
			"",
		}
		for i, article := range articles {
			lines = append(lines, formatArticleBrief(article, i+1, "")...)
			lines = append(lines, "")
		}
		return text(strings.Join(lines, "\n"))

	case "delete":
		if in.MediaID == "" {
			return text("错误：草稿ID不能为空")
		}
		client, err := s.apiClient()
		if err != nil {
			return textf("草稿操作失败: %v", err)
		}
		if err := client.DeleteDraft(ctx, in.MediaID); err != nil {
			return textf("草稿操作失败: %v", err)
		}
		return textf("草稿删除成功！\n草稿ID: %s\n注意：此操作无法撤销，草稿已永久删除。", in.MediaID)

	case "list":
		return s.draftList(ctx, in)

	case "count":
		client, err := s.apiClient()
		if err != nil {
			return textf("草稿操作失败: %v", err)
		}
		total, err := client.CountDrafts(ctx)
		if err != nil {
			return textf("草稿操作失败: %v", err)
		}
		return textf("草稿统计信息：\n草稿总数: %d 个", total)

	case "update":
		return s.draftUpdate(ctx, in)

	case "switch":
		client, err := s.apiClient()
		if err != nil {
			return textf("草稿操作失败: %v", err)
		}
		isOpen, err := client.DraftSwitch(ctx, in.CheckOnly)
		if err != nil {
			return textf("草稿操作失败: %v", err)
		}
		if in.CheckOnly {
			status := "已关闭"
			if isOpen == 1 {
				status = "已开启"
			}
			return textf("草稿箱开关状态查询成功！\n当前状态: %s (is_open=%d)", status, isOpen)
		}
		if isOpen == 1 {
			return text("草稿箱开关已成功开启！\n注意：此开关开启后不可逆，无法从开启状态回到关闭状态。")
		}
		return text("草稿箱开关设置完成。\n当前状态: 关闭 (is_open=0)")

	default:
		return textf("未知操作: %s", in.Action)
	}
}

func (s *Server) draftList(ctx context.Context, in draftInput) (*mcp.CallToolResult, any, error) {
	count := in.Count
	if count == 0 {
		count = listCountMax
	}
	if count < listCountMin || count > listCountMax {
		return textf("错误：count参数必须在%d到%d之间", listCountMin, listCountMax)
	}

	client, err := s.apiClient()
	if err != nil {
		return textf("草稿操作失败: %v", err)
	}
	result, err := client.ListDrafts(ctx, in.Offset, count, in.NoContent)
	if err != nil {
		return textf("草稿操作失败: %v", err)
	}
	if len(result.Items) == 0 {
		return textf("草稿列表为空（总数: %d）", result.TotalCount)
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("草稿列表 (%d-%d/%d):", in.Offset+1, in.Offset+result.ItemCount, result.TotalCount), "")
	for i, item := range result.Items {
		lines = append(lines, fmt.Sprintf("%d. 草稿ID: %s", in.Offset+i+1, item.MediaID))
		lines = append(lines, "   更新时间: "+formatTimestamp(item.UpdateTime))
		if len(item.Content.NewsItem) == 0 {
			lines = append(lines, "   内容: 无（可能设置了noContent参数）")
		} else {
			lines = append(lines, fmt.Sprintf("   包含文章数: %d", len(item.Content.NewsItem)))
			for j, article := range item.Content.NewsItem {
				lines = append(lines, formatArticleBrief(article, j+1, "   ")...)
			}
		}
		lines = append(lines, "")
	}
	return text(strings.Join(lines, "\n"))
}

func (s *Server) draftUpdate(ctx context.Context, in draftInput) (*mcp.CallToolResult, any, error) {
	if in.MediaID == "" {
		return text("错误：草稿ID不能为空")
	}
	if len(in.Articles) == 0 {
		return text("错误：文章内容不能为空")
	}

	client, err := s.apiClient()
	if err != nil {
		return textf("草稿操作失败: %v", err)
	}

	if in.Index != nil {
		if len(in.Articles) > 1 {
			return text("错误：指定index时，只能更新一篇文章")
		}
		if err := client.UpdateDraft(ctx, in.MediaID, *in.Index, toArticle(in.Articles[0])); err != nil {
			return textf("草稿操作失败: %v", err)
		}
		return textf("草稿更新成功！\n草稿ID: %s\n更新文章索引: %d", in.MediaID, *in.Index)
	}

	for i, a := range in.Articles {
		if err := client.UpdateDraft(ctx, in.MediaID, i, toArticle(a)); err != nil {
			return textf("草稿操作失败: %v", err)
		}
	}
	return textf("草稿更新成功！\n草稿ID: %s\n更新文章数: %d", in.MediaID, len(in.Articles))
}

type publishInput struct {
	Action    string `json:"action" jsonschema:"操作类型：submit(发布草稿), get(获取发布状态), delete(删除发布), list(获取发布列表)"`
	MediaID   string `json:"mediaId,omitempty" jsonschema:"草稿 Media ID（发布时必需）"`
	PublishID string `json:"publishId,omitempty" jsonschema:"发布任务ID（获取状态时必需）"`
	ArticleID string `json:"articleId,omitempty" jsonschema:"文章ID（删除发布时必需）"`
	Index     int    `json:"index,omitempty" jsonschema:"要删除的文章在发布中的位置，第一篇为1"`
	Offset    int    `json:"offset,omitempty" jsonschema:"偏移量（列表时使用）"`
	Count     int    `json:"count,omitempty" jsonschema:"数量（列表时使用）"`
}

var publishStatusText = map[int]string{
	0: "审核中",
	1: "审核通过",
	2: "审核失败",
	3: "已发布",
}

func (s *Server) handlePublish(ctx context.Context, _ *mcp.CallToolRequest, in publishInput) (*mcp.CallToolResult, any, error) {
	switch in.Action {
	case "submit":
		if in.MediaID == "" {
			return text("错误：发布草稿时 mediaId 是必需的")
		}
		client, err := s.apiClient()
		if err != nil {
			return textf("发布操作失败: %v", err)
		}
		publishID, err := client.PublishDraft(ctx, in.MediaID)
		if err != nil {
			return textf("发布操作失败: %v", err)
		}
		return textf("草稿发布成功！\n草稿ID: %s\n发布任务ID: %s\n文章将在审核通过后发布到公众号",
			in.MediaID, publishID)

	case "get":
		if in.PublishID == "" {
			return text("错误：获取发布状态时 publishId 是必需的")
		}
		client, err := s.apiClient()
		if err != nil {
			return textf("发布操作失败: %v", err)
		}
		status, err := client.GetPublishStatus(ctx, in.PublishID)
		if err != nil {
			return textf("发布操作失败: %v", err)
		}
		statusText := publishStatusText[status.PublishStatus]
		if statusText == "" {
			statusText = "未知"
		}
		return textf("发布状态：\n发布任务ID: %s\n状态: %s(%d)\n文章ID: %s",
			in.PublishID, statusText, status.PublishStatus, status.ArticleID)

	case "delete":
		if in.ArticleID == "" {
			return text("错误：删除发布时 articleId 是必需的")
		}
		index := in.Index
		if index == 0 {
			index = 1
		}
		client, err := s.apiClient()
		if err != nil {
			return textf("发布操作失败: %v", err)
		}
		if err := client.DeletePublishedArticle(ctx, in.ArticleID, index); err != nil {
			return textf("发布操作失败: %v", err)
		}
		return textf("发布删除成功！\n文章ID: %s", in.ArticleID)

	case "list":
		count := in.Count
		if count == 0 {
			count = listCountMax
		}
		client, err := s.apiClient()
		if err != nil {
			return textf("发布操作失败: %v", err)
		}
		result, err := client.ListPublished(ctx, in.Offset, count)
		if err != nil {
			return textf("发布操作失败: %v", err)
		}
		var lines []string
		lines = append(lines, fmt.Sprintf("发布列表 (%d-%d/%d):",
			in.Offset+1, in.Offset+len(result.Items), result.TotalCount), "")
		for i, item := range result.Items {
			title := "未知"
			if len(item.Content.NewsItem) > 0 && item.Content.NewsItem[0].Title != "" {
				title = item.Content.NewsItem[0].Title
			}
			lines = append(lines, fmt.Sprintf("%d. 文章ID: %s", in.Offset+i+1, item.ArticleID))
			lines = append(lines, "   标题: "+title)
			lines = append(lines, "   发布时间: "+formatTimestamp(item.PublishTime))
			lines = append(lines, "")
		}
		return text(strings.Join(lines, "\n"))

	default:
		return textf("未知操作: %s", in.Action)
	}
}

// readFileInput resolves the filePath/fileData pair common to the upload
// tools. fileData wins when both are present.
func readFileInput(filePath, fileData string) ([]byte, string, error) {
	if fileData != "" {
		data, err := base64.StdEncoding.DecodeString(fileData)
		if err != nil {
			return nil, "", fmt.Errorf("fileData 不是有效的 Base64 数据: %w", err)
		}
		return data, "", nil
	}
	if filePath == "" {
		return nil, "", errors.New("必须提供 filePath 或 fileData")
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("读取文件失败: %w", err)
	}
	return data, filepath.Base(filePath), nil
}

var (
	doctypeRe = regexp.MustCompile(`(?i)<!DOCTYPE[^>]*>`)
	bodyRe    = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	htmlTagRe = regexp.MustCompile(`(?i)</?html[^>]*>`)
	headRe    = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	scriptRe  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
)

// cleanArticleHTML strips the document shell from article content. Drafts
// only accept a body fragment, and script/style tags are rejected.
func cleanArticleHTML(content string) string {
	if content == "" {
		return content
	}
	content = doctypeRe.ReplaceAllString(content, "")
	if m := bodyRe.FindStringSubmatch(content); m != nil {
		body := scriptRe.ReplaceAllString(m[1], "")
		body = styleRe.ReplaceAllString(body, "")
		return strings.TrimSpace(body)
	}
	content = htmlTagRe.ReplaceAllString(content, "")
	content = headRe.ReplaceAllString(content, "")
	content = scriptRe.ReplaceAllString(content, "")
	content = styleRe.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// validateDraftArticle returns a user-facing error message, or "" when
// the article is well formed. index is 1-based for display.
func validateDraftArticle(a draftArticleInput, index int) string {
	switch a.ArticleType {
	case "", "news":
		if a.ThumbMediaID == "" {
			return fmt.Sprintf("错误：第%d篇文章为图文消息，必须提供封面图片ID（thumbMediaId）", index)
		}
	case "newspic":
		if a.ImageInfo == nil || len(a.ImageInfo.ImageList) == 0 {
			return fmt.Sprintf("错误：第%d篇文章为图片消息，必须提供图片信息（imageInfo.imageList）", index)
		}
	}
	return ""
}

func toArticle(a draftArticleInput) wechat.Article {
	article := wechat.Article{
		ArticleType:        a.ArticleType,
		Title:              a.Title,
		Author:             a.Author,
		Digest:             a.Digest,
		Content:            cleanArticleHTML(a.Content),
		ContentSourceURL:   a.ContentSourceURL,
		ThumbMediaID:       a.ThumbMediaID,
		ShowCoverPic:       a.ShowCoverPic,
		NeedOpenComment:    a.NeedOpenComment,
		OnlyFansCanComment: a.OnlyFansCanComment,
		PicCrop2351:        a.PicCrop2351,
		PicCrop11:          a.PicCrop11,
	}
	if a.ImageInfo != nil && len(a.ImageInfo.ImageList) > 0 {
		info := &wechat.ImageInfo{}
		for _, img := range a.ImageInfo.ImageList {
			if img.ImageMediaID != "" {
				info.ImageList = append(info.ImageList, wechat.ImageItem{ImageMediaID: img.ImageMediaID})
			}
		}
		article.ImageInfo = info
	}
	return article
}

const articlePreviewLimit = 200

// formatArticleBrief renders a short article summary for listings.
func formatArticleBrief(a wechat.Article, index int, indent string) []string {
	typeText := "图文消息"
	if a.ArticleType == "newspic" {
		typeText = "图片消息"
	}
	lines := []string{
		fmt.Sprintf("%s第%d篇 (%s):", indent, index, typeText),
		fmt.Sprintf("%s标题: %s", indent, orUnset(a.Title)),
	}
	if a.Author != "" {
		lines = append(lines, indent+"作者: "+a.Author)
	}
	if a.Digest != "" {
		lines = append(lines, indent+"摘要: "+truncateRunes(a.Digest, 100))
	}
	if a.Content != "" {
		lines = append(lines, indent+"内容预览: "+truncateRunes(a.Content, articlePreviewLimit))
	}
	if a.ThumbMediaID != "" {
		lines = append(lines, indent+"封面图ID: "+a.ThumbMediaID)
	}
	if a.ImageInfo != nil {
		lines = append(lines, fmt.Sprintf("%s图片数量: %d", indent, len(a.ImageInfo.ImageList)))
	}
	if a.URL != "" {
		lines = append(lines, indent+"临时链接: "+a.URL)
	}
	return lines
}

func remainingSeconds(expiresAt time.Time) int64 {
	remaining := int64(time.Until(expiresAt).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func formatTimestamp(ts int64) string {
	if ts == 0 {
		return "未知"
	}
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "..."
	}
	return s[:8] + "..."
}

func orUnset(s string) string {
	if s == "" {
		return "未设置"
	}
	return s
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
