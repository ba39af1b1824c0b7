package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ccp-p/pron-assess/internal/controller"
	"github.com/ccp-p/pron-assess/internal/ui"
	"github.com/ccp-p/pron-assess/pkg/audio"
	"github.com/ccp-p/pron-assess/pkg/export"
	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

// metaFlags 可重复的 key=value 参数
type metaFlags map[string]string

func (m metaFlags) String() string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (m metaFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("元数据格式应为 key=value: %q", value)
	}
	m[strings.TrimSpace(key)] = val
	return nil
}

var (
	audioFile  = flag.String("audio", "", "要评测的录音文件")
	phrase     = flag.String("phrase", "", "参考短语，为空时先转写再评测")
	language   = flag.String("lang", "", "识别语言，默认使用配置")
	outputDir  = flag.String("out", "", "评测结果 JSON 输出目录，为空时不导出")
	watchDir   = flag.String("watch", "", "监控收件目录并持续评测")
	probeOnly  = flag.Bool("probe", false, "只显示录音的媒体信息")
	rawJSON    = flag.Bool("json", false, "输出原始 JSON 响应")
	configFile = flag.String("config", "", "配置文件路径 (yaml/json)")
	logLevel   = flag.String("log-level", "WARN", "日志级别 (VERBOSE, INFO, WARN, ERROR)")
	saveConfig = flag.String("save-config", "", "把生效的配置保存到该路径后退出")
	metadata   = metaFlags{}
)

func main() {
	flag.Var(metadata, "meta", "附加元数据 key=value，可重复")
	flag.Parse()

	if *probeOnly {
		os.Exit(runProbe())
	}

	if *audioFile == "" && *watchDir == "" && *saveConfig == "" {
		fmt.Fprintln(os.Stderr, "必须指定 -audio、-watch 或 -save-config")
		flag.Usage()
		os.Exit(2)
	}

	ac, err := controller.NewAssessController(controller.Options{ConfigFile: *configFile, LogLevel: *logLevel})
	if err != nil {
		color.Red("初始化失败: %v", err)
		os.Exit(1)
	}
	defer ac.Cleanup()

	overrides := map[string]interface{}{}
	if *outputDir != "" {
		overrides["output_folder"] = *outputDir
	}
	if *watchDir != "" {
		overrides["watch_folder"] = *watchDir
	}
	if *language != "" {
		overrides["default_language"] = *language
	}
	if err := ac.ApplyOverrides(overrides); err != nil {
		color.Red("%v", err)
		ac.Cleanup()
		os.Exit(2)
	}

	if *saveConfig != "" {
		if err := ac.SaveConfig(*saveConfig); err != nil {
			color.Red("%v", err)
			ac.Cleanup()
			os.Exit(1)
		}
		fmt.Printf("配置已保存: %s\n", *saveConfig)
		return
	}

	if *watchDir != "" {
		color.Cyan("监控收件目录: %s -> %s", ac.Config.WatchFolder, ac.Config.OutputFolder)
		err := ac.StartWatchMode(func(path string, flow models.Flow, resp *models.Response) {
			color.Cyan("\n== %s (%s) ==", path, flow)
			printResponse(resp)
		})
		ac.PrintStats()
		if err != nil {
			utils.Error("监控失败: %v", err)
			ac.Cleanup()
			os.Exit(1)
		}
		return
	}

	start := time.Now()
	flow, resp, err := ac.AssessFile(*audioFile, *phrase, *language, metadata)
	if err != nil {
		color.Red("%v", err)
		ac.Cleanup()
		os.Exit(1)
	}

	printResponse(resp)
	fmt.Printf("\n用时: %s\n", utils.FormatTimeDuration(time.Since(start)))

	if *outputDir != "" {
		path, err := export.NewJSONExporter(*outputDir).Export(*audioFile, flow, resp)
		if err != nil {
			utils.Error("导出失败: %v", err)
		} else {
			fmt.Printf("结果已保存: %s\n", path)
		}
	}

	if !resp.OK() {
		ac.Cleanup()
		os.Exit(1)
	}
}

func printResponse(resp *models.Response) {
	if *rawJSON {
		data, err := json.MarshalIndent(resp.Body(), "", "  ")
		if err != nil {
			utils.Error("JSON 序列化错误: %v", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	ui.RenderResponse(os.Stdout, resp)
}

func runProbe() int {
	if *audioFile == "" {
		fmt.Fprintln(os.Stderr, "-probe 需要同时指定 -audio")
		return 2
	}

	config := models.NewDefaultConfig()
	if *configFile != "" {
		if err := config.LoadFromFile(*configFile); err != nil {
			color.Red("加载配置失败: %v", err)
			return 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.TranscodeTimeoutDuration())
	defer cancel()

	info, err := audio.Probe(ctx, config.FFprobePath, *audioFile)
	if err != nil {
		color.Red("读取媒体信息失败: %v", err)
		return 1
	}
	fmt.Println(info.String())
	return 0
}
