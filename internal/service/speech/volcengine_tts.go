package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
)

const ttsEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

var (
	ErrEmptyText  = errors.New("tts text is empty")
	ErrEmptyAudio = errors.New("tts returned no audio")
)

// ttsClient 火山引擎单向流式 TTS 客户端
type ttsClient struct {
	config   *speechmodel.SpeechConfig
	dialer   *websocket.Dialer
	endpoint string
}

func newTTSClient(cfg *speechmodel.SpeechConfig) *ttsClient {
	return &ttsClient{
		config:   cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		endpoint: ttsEndpoint,
	}
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type ttsPayload struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
	Emotion         string  `json:"emotion,omitempty"`
	EmotionScale    float32 `json:"emotion_scale,omitempty"`
}

// synthesize 依次尝试音色与资源 ID 组合，直到服务端接受。
func (c *ttsClient) synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	format := normalizeTTSFormat(req.Format)
	speakers := resolveTTSSpeakerCandidates(req.Voice, c.config.TTSVoice)

	var lastMismatch error
	for _, speaker := range speakers {
		for _, resourceID := range resolveTTSResourceCandidates(speaker) {
			resp, err := c.attempt(ctx, req, appID, token, speaker, format, resourceID)
			if err == nil {
				return resp, nil
			}
			if !isResourceMismatchError(err) {
				return nil, err
			}
			log.Warn().Err(err).Str("speaker", speaker).Str("resource", resourceID).Msg("tts resource mismatch, trying next candidate")
			lastMismatch = err
		}
	}

	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("tts: no compatible resource for speakers %v", speakers)
}

func (c *ttsClient) attempt(ctx context.Context, req *speechmodel.TTSRequest, appID, token, speaker, format, resourceID string) (*speechmodel.TTSResponse, error) {
	connectID := uuid.NewString()
	conn, err := dialProvider(ctx, c.dialer, c.endpoint, providerHeader(appID, token, resourceID, connectID))
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	defer conn.Close()
	stop := closeOnDone(ctx, conn)
	defer stop()

	payload, uid := c.buildPayload(req, speaker, format)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newFullClientFrame(body, compressNone).marshal()); err != nil {
		return nil, fmt.Errorf("tts: send request: %w", err)
	}

	acc := ttsAccumulator{format: format}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("tts: read response: %w", err)
		}

		f, err := parseFrame(raw)
		if err != nil {
			return nil, fmt.Errorf("tts: decode frame: %w", err)
		}

		done, err := acc.consume(f)
		if err != nil {
			return nil, err
		}
		if done {
			return acc.response(firstNonEmpty(req.SessionID, uid), connectID)
		}
	}
}

// ttsAccumulator 收集音频分片直到会话结束
type ttsAccumulator struct {
	audio    bytes.Buffer
	format   string
	reqID    string
	duration int64
}

func (a *ttsAccumulator) consume(f *frame) (bool, error) {
	switch f.kind {
	case frameError:
		payload, err := f.decodedPayload()
		if err != nil {
			return false, fmt.Errorf("tts: decode error frame: %w", err)
		}
		return false, fmt.Errorf("tts error %d: %s", f.errorCode, string(payload))

	case frameAudioServer:
		chunk, err := f.decodedPayload()
		if err != nil {
			return false, fmt.Errorf("tts: decompress audio: %w", err)
		}
		a.audio.Write(chunk)
		return f.isLast(), nil

	case frameFullServer:
		payload, err := f.decodedPayload()
		if err != nil {
			return false, fmt.Errorf("tts: decompress response: %w", err)
		}

		var msg ttsServerMessage
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &msg); err != nil {
				log.Debug().Err(err).Msg("tts: ignoring non-json server payload")
			} else if err := a.applyServerMessage(msg); err != nil {
				return false, err
			}
		}
		return f.finishesSession() || f.isLast() || msg.Sequence < 0, nil

	default:
		log.Debug().Uint8("type", uint8(f.kind)).Msg("tts: unexpected frame type")
		return false, nil
	}
}

func (a *ttsAccumulator) applyServerMessage(msg ttsServerMessage) error {
	if msg.Code != 0 && msg.Code != 3000 {
		return fmt.Errorf("tts api error %d: %s", msg.Code, msg.Message)
	}
	if msg.ReqID != "" {
		a.reqID = msg.ReqID
	}
	if msg.Addition.Duration != "" {
		if d, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
			a.duration = d
		}
	}
	if msg.Data != "" {
		chunk, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			return fmt.Errorf("tts: decode base64 audio: %w", err)
		}
		a.audio.Write(chunk)
	}
	return nil
}

func (a *ttsAccumulator) response(sessionID, connectID string) (*speechmodel.TTSResponse, error) {
	if a.audio.Len() == 0 {
		return nil, ErrEmptyAudio
	}
	return &speechmodel.TTSResponse{
		SessionID: sessionID,
		AudioData: a.audio.Bytes(),
		Duration:  a.duration,
		Format:    a.format,
		RequestID: firstNonEmpty(a.reqID, connectID),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// buildPayload 构建符合火山引擎API格式的TTS请求
func (c *ttsClient) buildPayload(req *speechmodel.TTSRequest, speaker, format string) (*ttsPayload, string) {
	p := &ttsPayload{}

	uid := strings.TrimSpace(req.SessionID)
	if uid == "" {
		uid = uuid.NewString()
	}
	p.User.UID = uid

	p.ReqParams.Speaker = firstNonEmpty(speaker, c.config.TTSVoice)
	p.ReqParams.Text = req.Text
	p.ReqParams.AudioParams = ttsAudioParams{Format: format, SampleRate: 24000, EnableTimestamp: true}

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}
	if speed > 0 && speed != 1.0 {
		p.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		p.ReqParams.AudioParams.VolumeRatio = volume
	}

	if req.Emotion != "" {
		p.ReqParams.AudioParams.Emotion = req.Emotion
		p.ReqParams.AudioParams.EmotionScale = req.EmotionScale
	}

	p.ReqParams.Language = firstNonEmpty(req.Language, c.config.TTSLanguage)
	p.ReqParams.Additions = `{"disable_markdown_filter":false}`

	return p, uid
}

// normalizeTTSFormat 服务端不支持 wav 直出，统一回落为 mp3。
func normalizeTTSFormat(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "ogg_opus", "pcm", "mp3":
		return f
	default:
		return "mp3"
	}
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars", "moon"} {
		if normalized != "" && strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	var candidates []string
	add := func(s string) {
		s = NormalizeVoiceAlias(s)
		if s == "" {
			return
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)

	if len(candidates) == 0 {
		return []string{""}
	}
	return candidates
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
