package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
)

const (
	asrNoStreamEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"

	// 16kHz, 16bit, mono, 200ms
	asrChunkSize = 6400
	// FullClientRequest 占用序号1，音频从2开始
	asrFirstSequence = 2
)

var ErrNoAudio = errors.New("asr: no audio data")

// asrClient 火山引擎大模型流式输入 ASR 客户端
type asrClient struct {
	config   *speechmodel.SpeechConfig
	dialer   *websocket.Dialer
	endpoint string
}

func newASRClient(cfg *speechmodel.SpeechConfig) *asrClient {
	return &asrClient{
		config:   cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		endpoint: asrNoStreamEndpoint,
	}
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

type asrPayload struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// transcribe 发送完整音频并等待最终识别结果
func (c *asrClient) transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	if req.AudioData == nil {
		return nil, ErrNoAudio
	}
	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("asr: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}

	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	resourceID := "volc.bigasr.sauc.duration"
	if c.config.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent"
	}
	connectID := firstNonEmpty(req.SessionID, uuid.NewString())

	conn, err := dialProvider(ctx, c.dialer, c.endpoint, providerHeader(appID, token, resourceID, connectID))
	if err != nil {
		return nil, fmt.Errorf("asr: %w", err)
	}
	defer conn.Close()

	body, err := json.Marshal(c.buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("asr: marshal request: %w", err)
	}
	compressed, err := compressPayload(body, compressGzip)
	if err != nil {
		return nil, fmt.Errorf("asr: compress request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newFullClientFrame(compressed, compressGzip).marshal()); err != nil {
		return nil, fmt.Errorf("asr: send request: %w", err)
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := closeOnDone(ctx, conn)
	defer stop()

	// 发送与接收并行，服务端提前报错时可以及时停止发送
	sendErrCh := make(chan error, 1)
	go func() {
		err := c.sendAudio(ctx, conn, audio)
		if err != nil {
			cancel()
		}
		sendErrCh <- err
	}()

	resp, recvErr := c.receive(conn, connectID)
	cancel()
	sendErr := <-sendErrCh

	if recvErr != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		if sendErr != nil && !errors.Is(sendErr, context.Canceled) {
			log.Debug().Err(sendErr).Str("session", connectID).Msg("asr: audio upload interrupted")
		}
		return nil, recvErr
	}
	return resp, nil
}

// buildPayload 构建符合火山引擎API格式的ASR请求
func (c *asrClient) buildPayload(req *speechmodel.ASRRequest) *asrPayload {
	p := &asrPayload{}
	p.User.UID = req.SessionID

	format := strings.ToLower(firstNonEmpty(req.Format, "wav"))
	p.Audio.Format = format
	p.Audio.Language = firstNonEmpty(req.Language, c.config.ASRLanguage, "en-US")
	switch format {
	case "ogg", "webm":
		p.Audio.Codec = "opus"
	default:
		p.Audio.Codec = "raw"
	}
	p.Audio.Rate = 16000
	p.Audio.Bits = 16
	p.Audio.Channel = 1

	p.Request.ModelName = firstNonEmpty(c.config.ASRModel, "bigmodel")
	p.Request.EnableITN = true
	p.Request.EnablePunc = true
	p.Request.ShowUtterances = true
	p.Request.ResultType = "full"
	p.Request.EndWindowSize = 800
	return p
}

// sendAudio 按 200ms 分包发送音频，最后一包携带负序号
func (c *asrClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	sequence := int32(asrFirstSequence)
	for offset := 0; offset < len(audio); offset += asrChunkSize {
		end := offset + asrChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		last := end == len(audio)

		chunk, err := compressPayload(audio[offset:end], compressGzip)
		if err != nil {
			return fmt.Errorf("compress chunk: %w", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, newAudioFrame(chunk, sequence, last, compressGzip).marshal()); err != nil {
			return fmt.Errorf("write chunk %d: %w", sequence, err)
		}
		sequence++

		if last {
			return nil
		}
		if delay := c.config.ASRChunkDelay; delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// receive 读取识别结果直到最后一包
func (c *asrClient) receive(conn *websocket.Conn, sessionID string) (*speechmodel.ASRResponse, error) {
	var (
		text     string
		duration int64
	)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("asr: read response: %w", err)
		}
		f, err := parseFrame(raw)
		if err != nil {
			return nil, fmt.Errorf("asr: decode frame: %w", err)
		}

		switch f.kind {
		case frameError:
			payload, _ := f.decodedPayload()
			return nil, fmt.Errorf("asr error %d: %s", f.errorCode, string(payload))

		case frameFullServer:
			payload, err := f.decodedPayload()
			if err != nil {
				return nil, fmt.Errorf("asr: decompress response: %w", err)
			}

			var msg asrServerMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				log.Debug().Err(err).Msg("asr: ignoring non-json server payload")
				continue
			}
			if msg.Code != 0 && msg.Code != 20000000 {
				return nil, fmt.Errorf("asr api error %d: %s", msg.Code, msg.Message)
			}

			if candidate := msg.Result.Text; candidate != "" {
				text = candidate
			} else if joined := joinUtterances(msg.Result.Utterances); joined != "" {
				text = joined
			}
			if msg.AudioInfo.Duration > 0 {
				duration = msg.AudioInfo.Duration
			}

			if f.isLast() || msg.Sequence < 0 {
				if text == "" {
					log.Info().Str("session", sessionID).Msg("asr returned an empty transcript")
				}
				return &speechmodel.ASRResponse{
					SessionID:  sessionID,
					Text:       strings.TrimSpace(text),
					Confidence: estimateConfidence(text),
					Duration:   duration,
					RequestID:  sessionID,
					CreatedAt:  time.Now().UTC(),
				}, nil
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func estimateConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}
