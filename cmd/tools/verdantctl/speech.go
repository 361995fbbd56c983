package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	speechmodel "github.com/verdantsentinel/backend/internal/model/speech"
	"github.com/verdantsentinel/backend/internal/service/speech"
)

var speechFlags struct {
	format   string
	language string
	voice    string
	session  string
	out      string
}

var asrCmd = &cobra.Command{
	Use:   "asr <audio-file>",
	Short: "Transcribe an audio file",
	Args:  cobra.ExactArgs(1),
	RunE:  runASR,
}

var ttsCmd = &cobra.Command{
	Use:   "tts <text>",
	Short: "Synthesize text into an audio file",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTTS,
}

func init() {
	for _, c := range []*cobra.Command{asrCmd, ttsCmd} {
		c.Flags().StringVar(&speechFlags.format, "format", "", "音频格式 (ASR: 输入格式; TTS: 输出格式)")
		c.Flags().StringVar(&speechFlags.language, "lang", "", "语言代码，默认使用配置中的语言")
		c.Flags().StringVar(&speechFlags.session, "session", "", "自定义 sessionID，留空则自动生成")
		rootCmd.AddCommand(c)
	}
	ttsCmd.Flags().StringVar(&speechFlags.voice, "voice", "", "TTS 声音 ID 或别名，默认使用配置中的 TTSVoice")
	ttsCmd.Flags().StringVarP(&speechFlags.out, "out", "o", "", "TTS 输出音频文件路径 (默认根据格式自动生成)")
}

func speechService() (*speech.Service, error) {
	if !cfg.Speech.Enabled {
		return nil, errors.New("语音服务未启用，请先在环境变量中配置 SPEECH_* 或 Ark 凭证")
	}
	return speech.NewService(cfg.Speech.Provider()), nil
}

func sessionID() string {
	if speechFlags.session != "" {
		return speechFlags.session
	}
	return fmt.Sprintf("manual-%d", time.Now().UnixNano())
}

func runASR(cmd *cobra.Command, args []string) error {
	svc, err := speechService()
	if err != nil {
		return err
	}

	audioPath := args[0]
	file, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("打开音频文件失败: %w", err)
	}
	defer file.Close()

	format := speechFlags.format
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
		if format == "" {
			format = "wav"
		}
	}
	language := speechFlags.language
	if language == "" {
		language = cfg.Speech.ASRLanguage
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	id := sessionID()
	log.Info().Str("session", id).Str("format", format).Str("language", language).Msg("开始进行 ASR")
	resp, err := svc.TranscribeAudio(ctx, &speechmodel.ASRRequest{
		SessionID: id,
		AudioData: file,
		Format:    format,
		Language:  language,
	})
	if err != nil {
		return fmt.Errorf("ASR 调用失败: %w", err)
	}

	log.Info().Float64("confidence", resp.Confidence).Int64("duration_ms", resp.Duration).Msg("ASR 识别成功")
	fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
	return nil
}

func runTTS(cmd *cobra.Command, args []string) error {
	svc, err := speechService()
	if err != nil {
		return err
	}

	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return errors.New("TTS 需要提供待合成文本")
	}

	voice := speechFlags.voice
	if voice == "" {
		voice = cfg.Speech.TTSVoice
	}
	language := speechFlags.language
	if language == "" {
		language = cfg.Speech.TTSLanguage
	}
	format := speechFlags.format
	if format == "" {
		format = "mp3"
	}
	out := speechFlags.out
	if out == "" {
		out = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), format)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	id := sessionID()
	log.Info().Str("session", id).Str("voice", voice).Str("format", format).Msg("开始进行 TTS")
	resp, err := svc.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: id,
		Text:      text,
		Voice:     speech.NormalizeVoiceAlias(voice),
		Format:    format,
		Language:  language,
	})
	if err != nil {
		return fmt.Errorf("TTS 调用失败: %w", err)
	}

	if err := os.WriteFile(out, resp.AudioData, 0o644); err != nil {
		return fmt.Errorf("写入音频文件失败: %w", err)
	}

	log.Info().Str("file", out).Int64("duration_ms", resp.Duration).Msg("TTS 合成成功")
	return nil
}
