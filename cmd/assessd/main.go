package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/ccp-p/pron-assess/internal/controller"
	"github.com/ccp-p/pron-assess/internal/server"
	"github.com/ccp-p/pron-assess/pkg/models"
	"github.com/ccp-p/pron-assess/pkg/utils"
)

var (
	configFile = flag.String("config", "", "配置文件路径 (yaml/json)")
	envFile    = flag.String("env", "", ".env 文件路径，默认读取当前目录")
	logLevel   = flag.String("log-level", "", "日志级别 (VERBOSE, INFO, WARN, ERROR)")
	logFile    = flag.String("log-file", "", "日志文件路径")
	host       = flag.String("host", "", "监听地址，覆盖配置")
	port       = flag.Int("port", 0, "监听端口，覆盖配置")
	watchDir   = flag.String("watch", "", "同时监控的收件目录，覆盖配置")
)

func main() {
	flag.Parse()

	opts := controller.Options{ConfigFile: *configFile, LogLevel: *logLevel, LogFile: *logFile}
	if *envFile != "" {
		opts.EnvFiles = []string{*envFile}
	}

	ac, err := controller.NewAssessController(opts)
	if err != nil {
		utils.Fatal("初始化失败: %v", err)
	}
	defer ac.Cleanup()

	if err := ac.ApplyOverrides(flagOverrides()); err != nil {
		utils.Error("%v", err)
		ac.Cleanup()
		os.Exit(2)
	}

	ac.Config.PrintConfig()
	printWelcome(ac.Config)

	if !checkDependencies(ac.Config.FFmpegPath) {
		utils.Error("缺少必要的依赖项，无法继续")
		ac.Cleanup()
		os.Exit(1)
	}

	srv := server.New(ac.Config, ac.Service)
	if ac.History != nil {
		srv.SetHistory(ac.History)
	}

	g, ctx := errgroup.WithContext(ac.Context())
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if ac.Config.WatchFolder != "" {
		g.Go(func() error {
			return ac.StartWatchMode(nil)
		})
		// 服务退出时同时停止监控
		g.Go(func() error {
			<-ctx.Done()
			ac.Cancel()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		utils.Error("服务异常退出: %v", err)
		ac.PrintStats()
		ac.Cleanup()
		os.Exit(1)
	}

	ac.PrintStats()
	utils.Info("服务已停止")
}

// flagOverrides 只收集显式设置的参数
func flagOverrides() map[string]interface{} {
	updates := map[string]interface{}{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			updates["host"] = *host
		case "port":
			updates["port"] = *port
		case "watch":
			updates["watch_folder"] = *watchDir
		}
	})
	return updates
}

func printWelcome(config *models.Config) {
	fmt.Println()
	color.Cyan("================================")
	color.Cyan("   发音评测服务")
	color.Cyan("================================")
	fmt.Printf("监听地址: http://%s\n", config.Addr())
	fmt.Printf("默认语言: %s\n", config.DefaultLanguage)
	if config.WatchFolder != "" {
		fmt.Printf("收件目录: %s -> %s\n", config.WatchFolder, config.OutputFolder)
	}
	fmt.Println()
}

func checkDependencies(ffmpeg string) bool {
	fmt.Print("检查系统依赖... ")

	if !utils.CheckFFmpeg(ffmpeg) {
		color.Red("失败")
		utils.Error("未检测到FFmpeg，请确保FFmpeg已安装并添加到系统路径")
		return false
	}

	color.Green("通过")
	return true
}
