package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iabetor/streamvoice/internal/config"
	"github.com/iabetor/streamvoice/internal/logger"
	"github.com/iabetor/streamvoice/internal/pipeline"
	"github.com/iabetor/streamvoice/internal/tts"
	"github.com/iabetor/streamvoice/internal/worker"
)

var (
	sayEngine string
	sayVoice  string
	saySpeed  float64
	sayAPIKey string

	renderID string

	deleteScript string

	watchConfig bool
)

var sayCmd = &cobra.Command{
	Use:   "say [text...]",
	Short: "合成并播放文本，文本为 - 时从标准输入读取",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if text == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			text = string(data)
		}

		req := pipeline.SpeakRequest{Text: text, Voice: sayVoice, Speed: saySpeed, APIKey: sayAPIKey}
		if sayEngine != "" {
			kind, err := tts.ParseKind(sayEngine)
			if err != nil {
				return err
			}
			req.Engine = kind
		}

		p, _, _, err := setup()
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, cancel := signalContext()
		defer cancel()
		return p.Speak(ctx, req)
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait <seconds>",
	Short: "播放一段静音",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("无效的秒数 %q: %w", args[0], err)
		}
		p, _, _, err := setup(pipeline.WithoutDatabase())
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, cancel := signalContext()
		defer cancel()
		return p.Wait(ctx, seconds)
	},
}

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "列出已注册的引擎、可用性和今天的合成次数",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, _, err := setup()
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, cancel := signalContext()
		defer cancel()

		m := p.Manager()
		available := m.CheckAllAvailability(ctx)
		counts, err := p.SynthesisCounts(ctx)
		if err != nil {
			logger.Warnf("[main] 读取合成统计失败: %v", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENGINE\tCOST\tQUALITY\tMAX\tAVAILABLE\tTODAY\tDESCRIPTION")
		for _, kind := range m.CandidateOrder(m.Current()) {
			d, _ := m.Describe(kind)
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%d\t%s\n",
				kind, d.Cost, d.Quality, d.MaxTextLength, available[kind], counts[string(kind)], d.Description)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n默认引擎: %s\n", m.Current())
		return nil
	},
}

var voicesCmd = &cobra.Command{
	Use:   "voices <engine>",
	Short: "列出引擎的可用语音",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := tts.ParseKind(args[0])
		if err != nil {
			return err
		}
		p, _, _, err := setup(pipeline.WithoutDatabase())
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, cancel := signalContext()
		defer cancel()
		voices, err := p.Manager().Voices(ctx, kind)
		if err != nil {
			return err
		}
		for _, v := range voices {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "列出音频输出设备",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, _, err := setup(pipeline.WithoutDatabase())
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, cancel := signalContext()
		defer cancel()
		current := p.Player().Device()
		for _, d := range p.Player().ListOutputDevices(ctx) {
			mark := " "
			if d.ID == current {
				mark = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%s\n", mark, d.ID, d.Name)
		}
		return nil
	},
}

// scriptFile 是剧本 YAML 文件的结构。
type scriptFile struct {
	ID    string                `yaml:"id"`
	Lines []pipeline.ScriptLine `yaml:"lines"`
}

func readScriptFile(path string) (*scriptFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取剧本 %s 失败: %w", path, err)
	}
	var sf scriptFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("解析剧本 %s 失败: %w", path, err)
	}
	if sf.ID == "" {
		sf.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &sf, nil
}

var renderCmd = &cobra.Command{
	Use:   "render <script.yaml>",
	Short: "预渲染剧本台词并保存",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sf, err := readScriptFile(args[0])
		if err != nil {
			return err
		}
		if renderID != "" {
			sf.ID = renderID
		}

		p, _, _, err := setup()
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, cancel := signalContext()
		defer cancel()
		lines, err := p.RenderScript(ctx, sf.ID, sf.Lines)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LINE\tKIND\tENGINE\tSIZE\tTEXT")
		for _, l := range lines {
			size := "-"
			if st, err := os.Stat(l.AudioPath); err == nil {
				size = humanize.Bytes(uint64(st.Size()))
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", l.LineNo, l.Kind, l.Engine, size, l.Text)
		}
		return w.Flush()
	},
}

var playScriptCmd = &cobra.Command{
	Use:   "play-script <id>",
	Short: "播放已渲染的剧本",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, _, err := setup()
		if err != nil {
			return err
		}
		defer p.Close()

		ctx, cancel := signalContext()
		defer cancel()
		return p.PlayScript(ctx, args[0])
	},
}

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "列出或删除已渲染的剧本",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, _, err := setup()
		if err != nil {
			return err
		}
		defer p.Close()
		ctx := cmd.Context()

		if deleteScript != "" {
			n, err := p.DeleteScript(ctx, deleteScript)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已删除 %s (%d 句)\n", deleteScript, n)
			return nil
		}

		scripts, err := p.Scripts(ctx)
		if err != nil {
			return err
		}
		sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
		for _, s := range scripts {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", s.ID, s.Lines)
		}
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "逐行读取标准输入并在后台朗读，输入 /stop 打断当前朗读",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, path, err := setup()
		if err != nil {
			return err
		}
		defer p.Close()

		if watchConfig {
			if path == "" {
				return fmt.Errorf("--watch 需要配置文件")
			}
			w, err := config.NewWatcher(path, func(cfg *config.Config, err error) {
				if err != nil {
					logger.Warnf("[main] 配置重新加载失败，保持当前配置: %v", err)
					return
				}
				p.ApplyConfig(cfg)
			})
			if err != nil {
				return err
			}
			defer w.Close()
		}

		ctx, cancel := signalContext()
		defer cancel()

		var wg sync.WaitGroup
		lines := make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				select {
				case lines <- sc.Text():
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				p.Interrupt()
				wg.Wait()
				return nil
			case line, ok := <-lines:
				if !ok {
					wg.Wait()
					return nil
				}
				line = strings.TrimSpace(line)
				switch {
				case line == "":
					continue
				case line == "/stop":
					p.Interrupt()
					continue
				}

				wg.Add(1)
				if _, err := p.SpeakAsync(pipeline.SpeakRequest{Text: line}, func(r worker.Result) {
					defer wg.Done()
					if r.Err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "朗读失败: %v\n", r.Err)
					}
				}); err != nil {
					wg.Done()
					fmt.Fprintf(cmd.ErrOrStderr(), "提交失败: %v\n", err)
				}
			}
		}
	},
}

func init() {
	sayCmd.Flags().StringVarP(&sayEngine, "engine", "e", "", "首选引擎 (google, avis, voicevox, system_tts, edge)")
	sayCmd.Flags().StringVarP(&sayVoice, "voice", "v", "", "首选引擎的语音标识")
	sayCmd.Flags().Float64VarP(&saySpeed, "speed", "s", 0, "语速倍率，0 表示使用配置")
	sayCmd.Flags().StringVar(&sayAPIKey, "api-key", "", "覆盖配置中的 Gemini API Key")

	renderCmd.Flags().StringVar(&renderID, "id", "", "剧本 ID，默认取文件中的 id 或文件名")

	scriptsCmd.Flags().StringVar(&deleteScript, "delete", "", "删除指定剧本及其音频")

	listenCmd.Flags().BoolVarP(&watchConfig, "watch", "w", false, "配置文件变化时自动应用")
}
