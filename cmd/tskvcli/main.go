// Copyright 2024 The tskv Authors
// This file is part of tskv.
//
// tskv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// tskv is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with tskv. If not, see <http://www.gnu.org/licenses/>.

// Command tskvcli opens a tskv engine directly against a data directory and
// exercises it, without going through any RPC surface: useful for poking at
// a store during development or scripting small repro cases.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/engine"
	"github.com/cnosdb/tskv/index"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type CLI struct {
	Path  string `help:"Database root directory." required:"" short:"p"`
	Debug bool   `help:"Enable debug-level logging."`

	Write  WriteCmd  `cmd:"" help:"Write one point from flag-specified tags and fields."`
	Read   ReadCmd   `cmd:"" help:"Read a column's data blocks for matching series."`
	Delete DeleteCmd `cmd:"" help:"Delete a time range for matching series."`
	Schema SchemaCmd `cmd:"" help:"Inspect or extend a table's schema."`
}

type Context struct {
	Engine *engine.TsKv
}

type WriteCmd struct {
	Tenant    string   `help:"Tenant name." default:"default"`
	Database  string   `arg:"" help:"Database name."`
	Table     string   `arg:"" help:"Table name."`
	Tag       []string `help:"Tag as key=value; repeatable." short:"t"`
	Field     []string `help:"Field as name=value; repeatable, value parsed as float64." short:"f"`
	Timestamp int64    `help:"Point timestamp, nanoseconds." required:""`
}

func (c *WriteCmd) Run(ctx *Context) error {
	tags, err := parsePairs(c.Tag)
	if err != nil {
		return err
	}
	fieldVals, err := parsePairs(c.Field)
	if err != nil {
		return err
	}

	pt := engine.Point{Table: c.Table, Timestamp: c.Timestamp}
	for k, v := range tags {
		pt.Tags = append(pt.Tags, engine.WireTag{Key: k, Value: v})
	}
	for name, raw := range fieldVals {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		pt.Fields = append(pt.Fields, engine.FieldValue{Name: name, Float: &f})
	}

	req := engine.WritePointsRequest{Database: c.Database, Points: []engine.Point{pt}}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	if _, err := ctx.Engine.Write(context.Background(), c.Tenant, payload); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

type ReadCmd struct {
	Tenant   string   `help:"Tenant name." default:"default"`
	Database string   `arg:"" help:"Database name."`
	Table    string   `arg:"" help:"Table name."`
	Column   string   `arg:"" help:"Field column name to read."`
	Tag      []string `help:"Tag as key=value to filter the series set; repeatable." short:"t"`
	Min      int64    `help:"Range start, nanoseconds (inclusive)."`
	Max      int64    `help:"Range end, nanoseconds (inclusive)."`
}

func (c *ReadCmd) Run(ctx *Context) error {
	tags, err := parsePairs(c.Tag)
	if err != nil {
		return err
	}
	idxTags := make([]index.Tag, 0, len(tags))
	for k, v := range tags {
		idxTags = append(idxTags, index.Tag{Key: k, Value: v})
	}

	ids, err := ctx.Engine.GetSeriesIdList(c.Tenant, c.Database, c.Table, idxTags)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no matching series")
		return nil
	}

	schema, ok := ctx.Engine.GetTableSchema(c.Tenant, c.Database, c.Table)
	if !ok {
		return fmt.Errorf("no schema for table %q", c.Table)
	}
	col, ok := schema.Column(c.Column)
	if !ok {
		return fmt.Errorf("no column %q in table %q", c.Column, c.Table)
	}

	max := c.Max
	if max == 0 {
		max = 1<<63 - 1
	}
	out, err := ctx.Engine.Read(context.Background(), c.Tenant, c.Database, ids,
		common.TimeRange{Min: c.Min, Max: max}, []common.ColumnId{col.ID})
	if err != nil {
		return err
	}

	for _, sid := range ids {
		blocks := out[sid][col.ID]
		for _, b := range blocks {
			for _, cell := range b.Cells {
				fmt.Printf("series=%d ts=%d value=%v\n", sid, cell.Ts, cell.Value)
			}
		}
	}
	return nil
}

type DeleteCmd struct {
	Tenant   string   `help:"Tenant name." default:"default"`
	Database string   `arg:"" help:"Database name."`
	Table    string   `arg:"" help:"Table name."`
	Tag      []string `help:"Tag as key=value to select series; repeatable." short:"t"`
	Min      int64    `help:"Range start, nanoseconds (inclusive)."`
	Max      int64    `help:"Range end, nanoseconds (inclusive)." required:""`
}

func (c *DeleteCmd) Run(ctx *Context) error {
	tags, err := parsePairs(c.Tag)
	if err != nil {
		return err
	}
	idxTags := make([]index.Tag, 0, len(tags))
	for k, v := range tags {
		idxTags = append(idxTags, index.Tag{Key: k, Value: v})
	}

	ids, err := ctx.Engine.GetSeriesIdList(c.Tenant, c.Database, c.Table, idxTags)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no matching series")
		return nil
	}
	if err := ctx.Engine.DeleteSeries(context.Background(), c.Tenant, c.Database, ids, c.Min, c.Max); err != nil {
		return err
	}
	fmt.Printf("deleted [%d,%d] for %d series\n", c.Min, c.Max, len(ids))
	return nil
}

type SchemaCmd struct {
	Show SchemaShowCmd `cmd:"" help:"Print a table's current columns."`
}

type SchemaShowCmd struct {
	Tenant   string `help:"Tenant name." default:"default"`
	Database string `arg:"" help:"Database name."`
	Table    string `arg:"" help:"Table name."`
}

func (c *SchemaShowCmd) Run(ctx *Context) error {
	schema, ok := ctx.Engine.GetTableSchema(c.Tenant, c.Database, c.Table)
	if !ok {
		return fmt.Errorf("no schema for table %q", c.Table)
	}
	for _, col := range schema.Columns() {
		fmt.Printf("%d\t%s\t%s\n", col.ID, col.Name, col.ColumnType.AsStr())
	}
	return nil
}

// parsePairs splits a repeated "key=value" flag slice into a map.
func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("tskvcli"),
		kong.Description("Exercise a tskv engine directly against its data directory."),
		kong.UsageOnError(),
	)

	logCfg := zap.NewProductionConfig()
	if cli.Debug {
		logCfg.Level.SetLevel(zap.DebugLevel)
	}
	log, err := logCfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	e, err := engine.Open(engine.Options{Path: cli.Path}, log)
	if err != nil {
		log.Fatal("open engine", zap.Error(err))
	}
	defer e.Close()

	if err := kctx.Run(&Context{Engine: e}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
