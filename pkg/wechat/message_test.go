package wechat

import (
	"strings"
	"testing"
)

func TestParseTextMessage(t *testing.T) {
	data := `<xml>
		<ToUserName><![CDATA[gh_abc123]]></ToUserName>
		<FromUserName><![CDATA[oUser001]]></FromUserName>
		<CreateTime>1700000000</CreateTime>
		<MsgType><![CDATA[text]]></MsgType>
		<Content><![CDATA[你好，世界]]></Content>
		<MsgId>12345678901234</MsgId>
	</xml>`

	msg, err := ParseMessage([]byte(data))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if msg.MsgType != "text" || msg.Content != "你好，世界" {
		t.Fatalf("unexpected parse: %+v", msg)
	}
	if msg.TrackingID() != "12345678901234" {
		t.Fatalf("expected MsgId tracking, got %q", msg.TrackingID())
	}
	if msg.IsEvent() {
		t.Fatal("text message classified as event")
	}
}

func TestParseEventMessage(t *testing.T) {
	data := `<xml>
		<ToUserName><![CDATA[gh_abc123]]></ToUserName>
		<FromUserName><![CDATA[oUser001]]></FromUserName>
		<CreateTime>1700000000</CreateTime>
		<MsgType><![CDATA[event]]></MsgType>
		<Event><![CDATA[subscribe]]></Event>
	</xml>`

	msg, err := ParseMessage([]byte(data))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if !msg.IsEvent() {
		t.Fatal("event not recognized")
	}
	if got := msg.TrackingID(); got != "oUser001_subscribe_1700000000" {
		t.Fatalf("unexpected event tracking id: %q", got)
	}
}

func TestTrackingIDMissing(t *testing.T) {
	msg := &Message{MsgType: "text", FromUserName: "oUser001"}
	if msg.TrackingID() != "" {
		t.Fatal("expected empty tracking id without MsgId or Event")
	}
}

func TestParseMediaMessages(t *testing.T) {
	voice := `<xml>
		<FromUserName><![CDATA[oUser001]]></FromUserName>
		<CreateTime>1700000000</CreateTime>
		<MsgType><![CDATA[voice]]></MsgType>
		<MediaId><![CDATA[media-1]]></MediaId>
		<Format><![CDATA[amr]]></Format>
		<Recognition><![CDATA[今天天气]]></Recognition>
		<MsgId>1</MsgId>
	</xml>`
	msg, err := ParseMessage([]byte(voice))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if msg.Recognition != "今天天气" || msg.MediaID != "media-1" {
		t.Fatalf("unexpected voice parse: %+v", msg)
	}

	link := `<xml>
		<FromUserName><![CDATA[oUser001]]></FromUserName>
		<MsgType><![CDATA[link]]></MsgType>
		<Title><![CDATA[a page]]></Title>
		<Url><![CDATA[https://example.com]]></Url>
		<MsgId>2</MsgId>
	</xml>`
	msg, err = ParseMessage([]byte(link))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if msg.URL != "https://example.com" {
		t.Fatalf("unexpected link parse: %+v", msg)
	}
}

func TestParseRejectsMissingType(t *testing.T) {
	if _, err := ParseMessage([]byte(`<xml><Content>x</Content></xml>`)); err == nil {
		t.Fatal("expected error for missing MsgType")
	}
	if _, err := ParseMessage([]byte(`not xml`)); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestBuildTextReply(t *testing.T) {
	inbound := &Message{
		ToUserName:   "gh_abc123",
		FromUserName: "oUser001",
	}
	out, err := BuildTextReply(inbound, "回复内容]]> with markup", 1700000100)
	if err != nil {
		t.Fatalf("BuildTextReply failed: %v", err)
	}

	// To/From must be swapped relative to the inbound message.
	reply, err := ParseMessage([]byte(out))
	if err != nil {
		t.Fatalf("reply does not parse: %v", err)
	}
	if reply.ToUserName != "oUser001" || reply.FromUserName != "gh_abc123" {
		t.Fatalf("addressing not swapped: %+v", reply)
	}
	if reply.Content != "回复内容]]> with markup" {
		t.Fatalf("content mangled: %q", reply.Content)
	}
	if !strings.Contains(out, "CDATA") {
		t.Fatal("reply fields should be CDATA wrapped")
	}
}
