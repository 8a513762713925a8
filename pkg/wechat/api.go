package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/oabridge/oabridge/pkg/logger"
)

// tokenRefreshMargin refreshes the cached access token this long before
// WeChat's reported expiry.
const tokenRefreshMargin = 300 * time.Second

// TokenStore persists access tokens across restarts. Implementations must
// be safe for concurrent use.
type TokenStore interface {
	LoadToken(appID string) (token string, expiresAt time.Time, err error)
	SaveToken(appID, token string, expiresAt time.Time) error
}

// APIError is a non-zero errcode returned by the WeChat API.
type APIError struct {
	Code    int    `json:"errcode"`
	Message string `json:"errmsg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wechat api error %d: %s", e.Code, e.Message)
}

// Client talks to the Official Account REST API. It caches the access token
// in memory and optionally in a TokenStore, and rate limits outbound calls.
type Client struct {
	appID      string
	appSecret  string
	baseURL    string
	httpClient *http.Client
	store      TokenStore
	limiter    *rate.Limiter

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type ClientOption func(*Client)

// WithTokenStore persists tokens so restarts reuse a still-valid token
// instead of burning the daily quota.
func WithTokenStore(s TokenStore) ClientOption {
	return func(c *Client) { c.store = s }
}

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithBaseHost overrides api.weixin.qq.com, for proxies.
func WithBaseHost(host string) ClientOption {
	return func(c *Client) {
		if strings.Contains(host, "://") {
			c.baseURL = strings.TrimSuffix(host, "/")
			return
		}
		c.baseURL = "https://" + strings.TrimSuffix(host, "/")
	}
}

func NewClient(appID, appSecret string, opts ...ClientOption) *Client {
	c := &Client{
		appID:      appID,
		appSecret:  appSecret,
		baseURL:    "https://api.weixin.qq.com",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(20), 40),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccessToken returns a valid access token, fetching a new one when the
// cached token is missing or within the refresh margin of expiry.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.expiresAt) > tokenRefreshMargin {
		return c.token, nil
	}

	if c.store != nil && c.token == "" {
		if token, expiresAt, err := c.store.LoadToken(c.appID); err == nil && token != "" {
			if time.Until(expiresAt) > tokenRefreshMargin {
				c.token, c.expiresAt = token, expiresAt
				return c.token, nil
			}
		}
	}

	return c.refreshTokenLocked(ctx)
}

// HasCachedToken reports whether a still-valid token is already held,
// without triggering a fetch.
func (c *Client) HasCachedToken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != "" && time.Until(c.expiresAt) > 0
}

// TokenInfo returns a valid token together with its expiry time.
func (c *Client) TokenInfo(ctx context.Context) (string, time.Time, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return token, c.expiresAt, nil
}

// RefreshToken discards any cached token and fetches a fresh one.
func (c *Client) RefreshToken(ctx context.Context) (string, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.refreshTokenLocked(ctx); err != nil {
		return "", time.Time{}, err
	}
	return c.token, c.expiresAt, nil
}

func (c *Client) refreshTokenLocked(ctx context.Context) (string, error) {
	u := fmt.Sprintf("%s/cgi-bin/token?grant_type=client_credential&appid=%s&secret=%s",
		c.baseURL, url.QueryEscape(c.appID), url.QueryEscape(c.appSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		APIError
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", &APIError{Code: result.Code, Message: result.Message}
	}

	c.token = result.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)

	if c.store != nil {
		if err := c.store.SaveToken(c.appID, c.token, c.expiresAt); err != nil {
			logger.WarnCF("wechat", "Failed to persist access token", map[string]any{
				"app_id": c.appID,
				"error":  err.Error(),
			})
		}
	}

	logger.InfoCF("wechat", "Refreshed access token", map[string]any{
		"app_id":     c.appID,
		"expires_in": result.ExpiresIn,
	})
	return c.token, nil
}

// postJSON issues an authenticated JSON POST and decodes the response into
// out, treating a non-zero errcode as an error. A nil out discards the body
// after the errcode check.
func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(path, token), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeAPIResponse(resp.Body, out)
}

// apiURL appends the access_token query parameter, respecting any query
// string already present in path.
func (c *Client) apiURL(path, token string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%saccess_token=%s", c.baseURL, path, sep, url.QueryEscape(token))
}

// getJSON issues an authenticated GET and decodes the response into out,
// treating a non-zero errcode as an error.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(path, token), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeAPIResponse(resp.Body, out)
}

func decodeAPIResponse(r io.Reader, out any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var check APIError
	if err := json.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if check.Code != 0 {
		return &check
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// SendText sends a customer-service text message to the given user.
func (c *Client) SendText(ctx context.Context, toUser, content string) error {
	payload := map[string]any{
		"touser":  toUser,
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return c.postJSON(ctx, "/cgi-bin/message/custom/send", payload, nil)
}

// Typing commands for SendTypingStatus.
const (
	TypingOn  = "Typing"
	TypingOff = "CancelTyping"
)

// SendTypingStatus toggles the "typing" indicator in the user's chat.
func (c *Client) SendTypingStatus(ctx context.Context, toUser, command string) error {
	payload := map[string]string{
		"touser":  toUser,
		"command": command,
	}
	return c.postJSON(ctx, "/cgi-bin/message/custom/typing", payload, nil)
}

// MediaUploadResult is returned by temporary and permanent media uploads.
type MediaUploadResult struct {
	Type      string `json:"type"`
	MediaID   string `json:"media_id"`
	ThumbID   string `json:"thumb_media_id"`
	URL       string `json:"url"`
	CreatedAt int64  `json:"created_at"`
}

func (c *Client) uploadFile(ctx context.Context, path, fieldName, filename string, data []byte, extra map[string]string) (*MediaUploadResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(fieldName, filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	for k, v := range extra {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(path, token), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	var result MediaUploadResult
	if err := decodeAPIResponse(resp.Body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadTempMedia uploads temporary media (image, voice, video, thumb),
// valid for three days.
func (c *Client) UploadTempMedia(ctx context.Context, mediaType, filename string, data []byte) (*MediaUploadResult, error) {
	path := fmt.Sprintf("/cgi-bin/media/upload?type=%s", url.QueryEscape(mediaType))
	return c.uploadFile(ctx, path, "media", filename, data, nil)
}

// UploadPermanentMedia uploads a permanent material. Video uploads carry a
// title and introduction in the description field.
func (c *Client) UploadPermanentMedia(ctx context.Context, mediaType, filename string, data []byte, videoTitle, videoIntro string) (*MediaUploadResult, error) {
	path := fmt.Sprintf("/cgi-bin/material/add_material?type=%s", url.QueryEscape(mediaType))
	var extra map[string]string
	if mediaType == "video" {
		desc, err := json.Marshal(map[string]string{
			"title":        videoTitle,
			"introduction": videoIntro,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal video description: %w", err)
		}
		extra = map[string]string{"description": string(desc)}
	}
	return c.uploadFile(ctx, path, "media", filename, data, extra)
}

// UploadArticleImage uploads an image for use inside article bodies. The
// returned URL is only usable within draft content.
func (c *Client) UploadArticleImage(ctx context.Context, filename string, data []byte) (string, error) {
	result, err := c.uploadFile(ctx, "/cgi-bin/media/uploadimg", "media", filename, data, nil)
	if err != nil {
		return "", err
	}
	return result.URL, nil
}

// FetchTempMedia downloads temporary media by media_id. If WeChat responds
// with JSON it is an errcode payload, otherwise raw bytes are returned.
func (c *Client) FetchTempMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, "", err
	}

	u := fmt.Sprintf("%s/cgi-bin/media/get?access_token=%s&media_id=%s",
		c.baseURL, url.QueryEscape(token), url.QueryEscape(mediaID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	if strings.Contains(contentType, "json") || strings.Contains(contentType, "text/plain") {
		var apiErr APIError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Code != 0 {
			return nil, "", &apiErr
		}
	}
	return data, contentType, nil
}

// DeletePermanentMedia removes a permanent material.
func (c *Client) DeletePermanentMedia(ctx context.Context, mediaID string) error {
	return c.postJSON(ctx, "/cgi-bin/material/del_material", map[string]string{"media_id": mediaID}, nil)
}

// FetchPermanentMedia downloads a permanent material. News and video
// materials come back as JSON, everything else as raw file bytes; callers
// can distinguish by content type.
func (c *Client) FetchPermanentMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, "", err
	}

	body, err := json.Marshal(map[string]string{"media_id": mediaID})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL("/cgi-bin/material/get_material", token), bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	if strings.Contains(contentType, "json") || strings.Contains(contentType, "text/plain") {
		var apiErr APIError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Code != 0 {
			return nil, "", &apiErr
		}
	}
	return data, contentType, nil
}

// MaterialItem is one entry in a permanent material listing. Content is
// only populated for news materials.
type MaterialItem struct {
	MediaID    string `json:"media_id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	UpdateTime int64  `json:"update_time"`
	Content    *struct {
		NewsItem []Article `json:"news_item"`
	} `json:"content,omitempty"`
}

// MaterialList is a page of permanent materials.
type MaterialList struct {
	TotalCount int            `json:"total_count"`
	ItemCount  int            `json:"item_count"`
	Items      []MaterialItem `json:"item"`
}

// ListPermanentMedia fetches a page of permanent materials of the given
// type (image, video, voice, news). count must be between 1 and 20.
func (c *Client) ListPermanentMedia(ctx context.Context, mediaType string, offset, count int) (*MaterialList, error) {
	payload := map[string]any{
		"type":   mediaType,
		"offset": offset,
		"count":  count,
	}
	var result MaterialList
	if err := c.postJSON(ctx, "/cgi-bin/material/batchget_material", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MaterialCount is the per-type permanent material tally.
type MaterialCount struct {
	ImageCount int `json:"image_count"`
	VoiceCount int `json:"voice_count"`
	VideoCount int `json:"video_count"`
	NewsCount  int `json:"news_count"`
}

// CountMaterials returns the permanent material counts per type.
func (c *Client) CountMaterials(ctx context.Context) (*MaterialCount, error) {
	var result MaterialCount
	if err := c.getJSON(ctx, "/cgi-bin/material/get_materialcount", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Article is a single article within a draft. ArticleType "news" (the
// default) requires ThumbMediaID; "newspic" requires ImageInfo instead.
type Article struct {
	ArticleType        string     `json:"article_type,omitempty"`
	Title              string     `json:"title"`
	Author             string     `json:"author,omitempty"`
	Digest             string     `json:"digest,omitempty"`
	Content            string     `json:"content"`
	ContentSourceURL   string     `json:"content_source_url,omitempty"`
	ThumbMediaID       string     `json:"thumb_media_id,omitempty"`
	ShowCoverPic       int        `json:"show_cover_pic,omitempty"`
	NeedOpenComment    int        `json:"need_open_comment,omitempty"`
	OnlyFansCanComment int        `json:"only_fans_can_comment,omitempty"`
	PicCrop2351        string     `json:"pic_crop_235_1,omitempty"`
	PicCrop11          string     `json:"pic_crop_1_1,omitempty"`
	ImageInfo          *ImageInfo `json:"image_info,omitempty"`
	URL                string     `json:"url,omitempty"`
}

// ImageInfo carries the image list of a picture-message article.
type ImageInfo struct {
	ImageList []ImageItem `json:"image_list"`
}

type ImageItem struct {
	ImageMediaID string `json:"image_media_id"`
}

// CreateDraft creates a draft from the given articles and returns its
// media_id.
func (c *Client) CreateDraft(ctx context.Context, articles []Article) (string, error) {
	var result struct {
		MediaID string `json:"media_id"`
	}
	payload := map[string]any{"articles": articles}
	if err := c.postJSON(ctx, "/cgi-bin/draft/add", payload, &result); err != nil {
		return "", err
	}
	return result.MediaID, nil
}

// GetDraft fetches a draft's articles by media_id.
func (c *Client) GetDraft(ctx context.Context, mediaID string) ([]Article, error) {
	var result struct {
		NewsItem []Article `json:"news_item"`
	}
	payload := map[string]string{"media_id": mediaID}
	if err := c.postJSON(ctx, "/cgi-bin/draft/get", payload, &result); err != nil {
		return nil, err
	}
	return result.NewsItem, nil
}

// DeleteDraft removes a draft.
func (c *Client) DeleteDraft(ctx context.Context, mediaID string) error {
	return c.postJSON(ctx, "/cgi-bin/draft/delete", map[string]string{"media_id": mediaID}, nil)
}

// UpdateDraft replaces one article of an existing draft in place.
func (c *Client) UpdateDraft(ctx context.Context, mediaID string, index int, article Article) error {
	payload := map[string]any{
		"media_id": mediaID,
		"index":    index,
		"articles": article,
	}
	return c.postJSON(ctx, "/cgi-bin/draft/update", payload, nil)
}

// DraftItem is one entry in a draft listing.
type DraftItem struct {
	MediaID    string `json:"media_id"`
	UpdateTime int64  `json:"update_time"`
	Content    struct {
		NewsItem []Article `json:"news_item"`
	} `json:"content"`
}

// DraftList is a page of drafts.
type DraftList struct {
	TotalCount int         `json:"total_count"`
	ItemCount  int         `json:"item_count"`
	Items      []DraftItem `json:"item"`
}

// ListDrafts fetches a page of drafts. noContent skips article bodies.
func (c *Client) ListDrafts(ctx context.Context, offset, count int, noContent bool) (*DraftList, error) {
	payload := map[string]any{"offset": offset, "count": count}
	if noContent {
		payload["no_content"] = 1
	}
	var result DraftList
	if err := c.postJSON(ctx, "/cgi-bin/draft/batchget", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CountDrafts returns the total number of drafts.
func (c *Client) CountDrafts(ctx context.Context) (int, error) {
	var result struct {
		TotalCount int `json:"total_count"`
	}
	if err := c.getJSON(ctx, "/cgi-bin/draft/count", &result); err != nil {
		return 0, err
	}
	return result.TotalCount, nil
}

// DraftSwitch flips the account to draft-box mode, or only queries the
// current state when checkOnly is set. Returns is_open. Enabling is
// irreversible on WeChat's side.
func (c *Client) DraftSwitch(ctx context.Context, checkOnly bool) (int, error) {
	path := "/cgi-bin/draft/switch"
	if checkOnly {
		path += "?checkonly=1"
	}
	var result struct {
		IsOpen int `json:"is_open"`
	}
	if err := c.postJSON(ctx, path, struct{}{}, &result); err != nil {
		return 0, err
	}
	return result.IsOpen, nil
}

// PublishDraft submits a draft for publishing and returns the publish_id
// used to poll status.
func (c *Client) PublishDraft(ctx context.Context, mediaID string) (string, error) {
	var result struct {
		PublishID json.Number `json:"publish_id"`
	}
	payload := map[string]string{"media_id": mediaID}
	if err := c.postJSON(ctx, "/cgi-bin/freepublish/submit", payload, &result); err != nil {
		return "", err
	}
	return result.PublishID.String(), nil
}

// PublishStatus is the review state of a publish job. PublishStatus is 0
// under review, 1 approved, 2 rejected, 3 published.
type PublishStatus struct {
	PublishID     json.Number `json:"publish_id"`
	PublishStatus int         `json:"publish_status"`
	ArticleID     string      `json:"article_id"`
	FailIdx       []int       `json:"fail_idx"`
}

// GetPublishStatus polls the review state of a publish job.
func (c *Client) GetPublishStatus(ctx context.Context, publishID string) (*PublishStatus, error) {
	var result PublishStatus
	payload := map[string]string{"publish_id": publishID}
	if err := c.postJSON(ctx, "/cgi-bin/freepublish/get", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeletePublishedArticle retracts a published article. index selects the
// article within a multi-article publication, starting at 1.
func (c *Client) DeletePublishedArticle(ctx context.Context, articleID string, index int) error {
	payload := map[string]any{
		"article_id": articleID,
		"index":      index,
	}
	return c.postJSON(ctx, "/cgi-bin/freepublish/delete", payload, nil)
}

// PublishedItem is one entry in a published article listing.
type PublishedItem struct {
	ArticleID   string `json:"article_id"`
	PublishTime int64  `json:"publish_time"`
	UpdateTime  int64  `json:"update_time"`
	Content     struct {
		NewsItem []Article `json:"news_item"`
	} `json:"content"`
}

// PublishedList is a page of published articles.
type PublishedList struct {
	TotalCount int             `json:"total_count"`
	ItemCount  int             `json:"item_count"`
	Items      []PublishedItem `json:"item"`
}

// ListPublished fetches a page of successfully published articles,
// without article bodies.
func (c *Client) ListPublished(ctx context.Context, offset, count int) (*PublishedList, error) {
	payload := map[string]any{
		"offset":     offset,
		"count":      count,
		"no_content": 1,
	}
	var result PublishedList
	if err := c.postJSON(ctx, "/cgi-bin/freepublish/batchget", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UserInfo is the subset of user profile fields the bridge consumes.
type UserInfo struct {
	Subscribe     int    `json:"subscribe"`
	OpenID        string `json:"openid"`
	Language      string `json:"language"`
	SubscribeTime int64  `json:"subscribe_time"`
	Remark        string `json:"remark"`
}

// GetUserInfo fetches a subscriber's profile by openid.
func (c *Client) GetUserInfo(ctx context.Context, openID string) (*UserInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/cgi-bin/user/info?access_token=%s&openid=%s&lang=zh_CN",
		c.baseURL, url.QueryEscape(token), url.QueryEscape(openID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var info UserInfo
	if err := decodeAPIResponse(resp.Body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
