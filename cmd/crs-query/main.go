// crs-query：按 caster URL、挂载点与流动站位置在目录中查询坐标系
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"crs-api/internal/catalog"
	"crs-api/internal/logger"
	"crs-api/internal/ntrip"
	"crs-api/internal/resolve"
	"crs-api/internal/utils"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type queryOptions struct {
	jsonPath     string
	url          string
	port         int
	mountpoint   string
	roverLat     float64
	roverLon     float64
	roverCountry string
	sourcetable  string
	logStreams   bool
}

var errNoSTR = errors.New("cannot find STR in provided sourcetable")

func newRootCmd() *cobra.Command {
	o := &queryOptions{}
	cmd := &cobra.Command{
		Use:           "crs-query",
		Short:         "Resolve the CRS of an NTRIP caster mountpoint against ntrip-catalog.json",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("rover-lat") {
				o.roverLat = math.NaN()
			}
			if !cmd.Flags().Changed("rover-lon") {
				o.roverLon = math.NaN()
			}
			return runQuery(cmd.Context(), o, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.jsonPath, "json-path", utils.Env("CATALOG_PATH", filepath.Join("dist", "ntrip-catalog.json")), "location of ntrip-catalog.json")
	f.StringVar(&o.url, "url", "", "URL of the NTRIP caster")
	f.IntVar(&o.port, "port", catalog.DefaultPort, "caster port, used when the URL has none")
	f.StringVar(&o.mountpoint, "mountpoint", "", "mountpoint used")
	f.Float64Var(&o.roverLat, "rover-lat", 0, "rover latitude")
	f.Float64Var(&o.roverLon, "rover-lon", 0, "rover longitude")
	f.StringVar(&o.roverCountry, "rover-country", "", "rover country (ISO 3166 alpha-3)")
	f.StringVar(&o.sourcetable, "sourcetable", "", "sourcetable content or path to it; no HTTP request is made when given")
	f.BoolVar(&o.logStreams, "log-streams", false, "log all the STR lines of the caster")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("mountpoint")
	return cmd
}

// runQuery：未找到条目或未匹配时输出 null
func runQuery(ctx context.Context, o *queryOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	u, err := catalog.NormalizeURL(o.url, o.port)
	if err != nil {
		return err
	}
	session := ntrip.NewSession(ntrip.NewClientFromEnv(), nil, 0)
	defer session.Close()
	if o.sourcetable != "" {
		text, err := sourcetableArg(o.sourcetable)
		if err != nil {
			return err
		}
		session.Preload(u, text)
	}
	if o.logStreams {
		logger.L().Info("sourcetable_connect", "url", u)
		if text, ok := session.Get(ctx, u); ok {
			for _, rec := range strLines(text) {
				logger.L().Info("sourcetable_stream", "line", rec)
			}
		}
	}
	c, err := catalog.Load(o.jsonPath)
	if err != nil {
		return err
	}
	entry, _, ok := c.FindByURL(u)
	if !ok {
		logger.L().Info("entry_not_found", "url", u)
		_, err := fmt.Fprintln(out, "null")
		return err
	}
	res := resolve.New(nil).Resolve(entry, resolve.Request{
		Mountpoint: o.mountpoint,
		Rover: resolve.Rover{
			Lat:     o.roverLat,
			Lon:     o.roverLon,
			Country: strings.ToUpper(o.roverCountry),
		},
		Sourcetable: session.Provider(ctx, u),
	})
	if !res.Matched() {
		_, err := fmt.Fprintln(out, "null")
		return err
	}
	b, err := json.MarshalIndent(res.CRS, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

// sourcetableArg：存在同名文件时读取文件，否则按字面文本处理
func sourcetableArg(v string) (string, error) {
	text := v
	if st, err := os.Stat(v); err == nil && !st.IsDir() {
		b, err := os.ReadFile(v)
		if err != nil {
			return "", err
		}
		text = string(b)
	}
	if !strings.Contains(text, "STR") {
		return "", errNoSTR
	}
	return text, nil
}

func strLines(text string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(line, "STR;") {
			out = append(out, line)
		}
	}
	return out
}

func main() {
	_ = godotenv.Load(".env")
	logger.Setup()
	if err := newRootCmd().Execute(); err != nil {
		logger.L().Error("crs_query_error", "err", err)
		os.Exit(1)
	}
}
