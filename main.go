package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/og-card/og-card/internal/cache"
	"github.com/og-card/og-card/internal/config"
	"github.com/og-card/og-card/internal/document"
	"github.com/og-card/og-card/internal/logging"
	"github.com/og-card/og-card/internal/server"
	"github.com/og-card/og-card/internal/server/routes"
	"github.com/og-card/og-card/internal/transform"
	"github.com/og-card/og-card/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	inputPath   string
	outputPath  string
	serve       bool
}

var (
	stdIn  io.Reader = os.Stdin
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// errNothingToDo 表示既没有输入文件也没有开启预览服务。
var errNothingToDo = errors.New("需要指定 -in 或 -serve")

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer logging.Close(logger)

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		for key, value := range logging.CacheFields(cfg.Cache) {
			fields[key] = value
		}
		fields["listen_port"] = cfg.Global.ListenPort
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if opts.inputPath == "" && !opts.serve {
		fmt.Fprintln(stdErr, errNothingToDo.Error())
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI 启动遵循“配置 → 抓取器 → 缓存恢复 → 转换 → 预览服务”顺序，
	// 保证同一进程内的转换与预览共享同一份缓存目录。
	tr, err := transform.New(cfg, transform.Dependencies{
		Logger:  logger,
		Fetcher: server.NewFetcher(cfg),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化转换器失败: %v\n", err)
		return 1
	}
	if err := tr.Setup(ctx); err != nil {
		fmt.Fprintf(stdErr, "恢复构建缓存失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	for key, value := range logging.CacheFields(cfg.Cache) {
		fields[key] = value
	}
	fields["run_id"] = tr.RunID()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if opts.inputPath != "" {
		err := transformFile(ctx, tr, opts.inputPath, opts.outputPath, logger)
		tr.Wait()
		if err != nil {
			fmt.Fprintf(stdErr, "转换失败: %v\n", err)
			return 1
		}
	}

	if opts.serve {
		if err := startHTTPServer(ctx, cfg, logger); err != nil {
			fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
			return 1
		}
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("og-card", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		input      string
		output     string
		serve      bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OG_CARD_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&input, "in", "", "待转换的 HTML 文件，- 表示 stdin")
	fs.StringVar(&output, "out", "-", "转换结果输出路径，- 表示 stdout")
	fs.BoolVar(&serve, "serve", false, "启动预览服务，托管 ServerCachePath 目录")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("解析参数失败: 未知参数 %s", strings.Join(fs.Args(), " "))
	}

	path := os.Getenv("OG_CARD_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		inputPath:   input,
		outputPath:  output,
		serve:       serve,
	}, nil
}

// transformFile 读取 HTML、替换裸链接并写出结果；输入不含 <html> 时按片段处理。
func transformFile(ctx context.Context, tr *transform.Transformer, inputPath, outputPath string, logger *logrus.Logger) error {
	raw, err := readInput(inputPath)
	if err != nil {
		return err
	}

	var doc *document.Document
	if isFullDocument(raw) {
		doc, err = document.Parse(bytes.NewReader(raw))
	} else {
		doc, err = document.ParseFragment(bytes.NewReader(raw))
	}
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	replaced, err := tr.Transform(ctx, doc.Root)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := doc.Render(&out); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	if err := writeOutput(outputPath, out.Bytes()); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action":   "transform",
		"run_id":   tr.RunID(),
		"input":    inputPath,
		"output":   outputPath,
		"replaced": replaced,
	}).Info("转换完成")
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdIn)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdOut.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func isFullDocument(raw []byte) bool {
	head := bytes.ToLower(raw)
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype"))
}

func startHTTPServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	publishDir := cfg.Cache.ServerCachePath
	if err := server.EnsurePublishDir(publishDir); err != nil {
		return err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		PublishDir: publishDir,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	index := cache.NewIndexStore(cache.Options{Logger: logger})
	routes.RegisterCacheRoutes(app, index, routes.CacheSources(cfg.Cache), nil)

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action":      "listen",
		"port":        port,
		"publish_dir": publishDir,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
