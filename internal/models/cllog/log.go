package cllog

import (
	"errors"
	"fmt"
	"io"
	"littletrack/internal/models/clconfig"
	"log/syslog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SyslogLevelWriter adapte syslog.Writer pour gérer les niveaux zerolog
type SyslogLevelWriter struct {
	Writer *syslog.Writer
}

// Outputs regroupe les sorties ouvertes par InitLogger, à fermer à l'arrêt
type Outputs struct {
	closers []io.Closer
}

func (o *Outputs) Close() error {
	if o == nil {
		return nil
	}
	var errs []error
	for _, c := range o.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// InitLogger configure le logger global Zerolog.
// Sans sortie fichier ni syslog, les logs vont sur la console.
func InitLogger(cfg clconfig.LoggerConfig, production bool) (*Outputs, error) {
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return path.Join(path.Base(path.Dir(file)), path.Base(file)) + ":" + strconv.Itoa(line)
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	writers, outputs, err := buildWriters(cfg, production, os.Stdout)
	if err != nil {
		return nil, err
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Caller().
		Str("service", "littletrack").
		Logger()

	environment := "developpement"
	if production {
		environment = "production"
	}
	log.Info().
		Str("environment", environment).
		Str("level", cfg.Level).
		Bool("log_to_file", cfg.File.Enable).
		Bool("log_to_syslog", cfg.Syslog.Enable).
		Msg("Logger initialized")

	return outputs, nil
}

func buildWriters(cfg clconfig.LoggerConfig, production bool, console io.Writer) ([]io.Writer, *Outputs, error) {
	var writers []io.Writer
	outputs := &Outputs{}

	// Console lisible en développement
	if !production {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: "15:04:05",
		})
	}

	if cfg.File.Enable {
		fileWriter, err := setupFileWriter(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("log file %s: %w", cfg.File.Path, err)
		}
		writers = append(writers, fileWriter)
		outputs.closers = append(outputs.closers, fileWriter)
	}

	if cfg.Syslog.Enable {
		syslogWriter, err := setupSyslogWriter(cfg.Syslog)
		if err != nil {
			outputs.Close()
			return nil, nil, err
		}
		writers = append(writers, syslogWriter)
		outputs.closers = append(outputs.closers, syslogWriter.Writer)
	}

	// JSON brut sur la sortie standard en production sans autre sortie
	if len(writers) == 0 {
		writers = append(writers, console)
	}

	return writers, outputs, nil
}

// Write implémente io.Writer et route vers la bonne fonction syslog selon le niveau
func (w *SyslogLevelWriter) Write(p []byte) (n int, err error) {
	msg := string(p)

	switch extractLevelFromJSON(msg) {
	case "trace", "debug":
		return len(p), w.Writer.Debug(msg)
	case "warn", "warning":
		return len(p), w.Writer.Warning(msg)
	case "error":
		return len(p), w.Writer.Err(msg)
	case "fatal", "panic":
		return len(p), w.Writer.Crit(msg)
	default:
		return len(p), w.Writer.Info(msg)
	}
}

// extractLevelFromJSON extrait le niveau d'un message zerolog {"level":"info",...}
func extractLevelFromJSON(msg string) string {
	const field = `"level":"`
	start := strings.Index(msg, field)
	if start == -1 {
		return ""
	}
	start += len(field)

	end := strings.IndexByte(msg[start:], '"')
	if end == -1 {
		return ""
	}
	return msg[start : start+end]
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// setupFileWriter configure la rotation des fichiers de log
func setupFileWriter(cfg clconfig.LoggerFileConfig) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, err
	}

	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}, nil
}

// setupSyslogWriter ouvre syslog en local ou à distance (tcp/udp)
func setupSyslogWriter(cfg clconfig.LoggerSyslogConfig) (*SyslogLevelWriter, error) {
	tag := cfg.Tag
	if tag == "" {
		tag = "littletrack"
	}
	priority := cfg.Priority
	if priority == 0 {
		priority = syslog.LOG_INFO | syslog.LOG_LOCAL0
	}

	var writer *syslog.Writer
	var err error
	if cfg.Protocol == "" || cfg.Address == "" {
		writer, err = syslog.New(priority, tag)
	} else {
		writer, err = syslog.Dial(cfg.Protocol, cfg.Address, priority, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}

	return &SyslogLevelWriter{Writer: writer}, nil
}
