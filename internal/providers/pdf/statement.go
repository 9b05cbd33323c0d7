package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type StatementData struct {
	AccountID   string
	GeneratedAt string
	Period      string

	Balance        string
	TotalPurchased string
	TotalUsed      string

	Lines []StatementLine
}

type StatementLine struct {
	Date         string
	Kind         string
	Description  string
	Amount       string
	BalanceAfter string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(10,
		text.NewCol(12, "Credit statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	// Statement Meta
	m.AddRow(20,
		col.New(6).Add(
			text.New("Account: "+data.AccountID, props.Text{Top: 0}),
			text.New("Generated: "+data.GeneratedAt, props.Text{Top: 4}),
			text.New("Period: "+data.Period, props.Text{Top: 8}),
		),
		col.New(6),
	)

	// Summary
	m.AddRow(15,
		text.NewCol(12, "Balance: "+data.Balance+" credits", props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)
	m.AddRow(12,
		col.New(6).Add(
			text.New("Total purchased: "+data.TotalPurchased, props.Text{Size: 9}),
			text.New("Total used: "+data.TotalUsed, props.Text{Size: 9, Top: 4}),
		),
		col.New(6),
	)

	// Table Header
	m.AddRow(10,
		text.NewCol(2, "Date", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Kind", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Balance", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	// Lines
	for _, line := range data.Lines {
		m.AddRow(8,
			text.NewCol(2, line.Date, props.Text{Size: 9}),
			text.NewCol(2, line.Kind, props.Text{Size: 9}),
			text.NewCol(4, line.Description, props.Text{Size: 9}),
			text.NewCol(2, line.Amount, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, line.BalanceAfter, props.Text{Size: 9, Align: align.Right}),
		)
	}

	if len(data.Lines) == 0 {
		m.AddRow(10,
			text.NewCol(12, "No transactions in this period.", props.Text{Size: 9}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render statement: %w", err)
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
