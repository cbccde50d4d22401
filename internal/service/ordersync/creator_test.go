package ordersync

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/erp"
	erpmemory "github.com/vladislavdragonenkov/ordersync/internal/erp/memory"
	"github.com/vladislavdragonenkov/ordersync/internal/service/salesperson"
)

var tenantVinesa = domain.TenantTarget{EnterpriseCode: "VINESA", Database: "SBO_VINESA", WarehouseID: 3}

func newTestCreator(t *testing.T, conn *erpmemory.Connector) *Creator {
	t.Helper()
	sess, err := conn.Connect(context.Background(), tenantVinesa.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close(context.Background()) })

	logger := testLogger()
	return NewCreator(sess, salesperson.NewResolver(sess, logger), tenantVinesa, logger)
}

func TestCreator_CreatesDocumentWithTenantWarehouse(t *testing.T) {
	t.Parallel()

	conn := erpmemory.NewConnector(1000)
	conn.SetSalespeople(tenantVinesa.Database, map[int]string{5: "Ana"})
	creator := newTestCreator(t, conn)

	order := stagedOrder(42,
		detail("X1", "2", "10", "0"),
		detail("X2", "1", "5", "10"),
	)
	order.ExternalID = "ZOHO-42"
	order.Salesperson = "Ana"

	ref, err := creator.Create(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, domain.ERPReference{DocEntry: 1, DocNum: 1001}, ref)

	docs := conn.Documents(tenantVinesa.Database)
	require.Len(t, docs, 1)
	doc := docs[0]

	require.Equal(t, "C100", doc.CardCode)
	require.True(t, doc.DocDueDate.Equal(orderDate))
	require.True(t, doc.TaxDate.Equal(orderDate))
	require.Contains(t, doc.Comments, "order_id=42")
	require.Contains(t, doc.Comments, "ZOHO-42")
	require.NotNil(t, doc.SalesPersonCode)
	require.Equal(t, 5, *doc.SalesPersonCode)

	lines := doc.Lines.All()
	require.Len(t, lines, 2)
	require.Equal(t, "X1", lines[0].ItemCode)
	require.True(t, lines[0].Quantity.Equal(dec("2")))
	require.True(t, lines[0].UnitPrice.Equal(dec("10")))
	require.True(t, lines[0].DiscountPercent.IsZero())
	require.Equal(t, "X2", lines[1].ItemCode)
	require.True(t, lines[1].DiscountPercent.Equal(dec("10")))
	for _, l := range lines {
		require.Equal(t, "3", l.WarehouseCode)
	}
}

func TestCreator_EmptyOrder(t *testing.T) {
	t.Parallel()

	conn := erpmemory.NewConnector(0)
	creator := newTestCreator(t, conn)

	_, err := creator.Create(context.Background(), stagedOrder(7))
	require.True(t, errors.Is(err, domain.ErrEmptyOrder), "got %v", err)
	require.Empty(t, conn.Documents(tenantVinesa.Database))
	require.Empty(t, conn.Queries(), "empty order must not reach the salesperson lookup")
}

func TestCreator_ERPRejectionKeepsMessage(t *testing.T) {
	t.Parallel()

	conn := erpmemory.NewConnector(0)
	conn.RejectItem("DISCONTINUED", "Item 'DISCONTINUED' is inactive")
	creator := newTestCreator(t, conn)

	_, err := creator.Create(context.Background(), stagedOrder(8, detail("DISCONTINUED", "1", "1", "0")))
	require.True(t, errors.Is(err, domain.ErrERPRejected), "got %v", err)
	require.Equal(t, "Item 'DISCONTINUED' is inactive", domain.MessageOf(err))
}

func TestCreator_ReadBackFailureKeepsDocEntry(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		readErr  error
		wantKind domain.ErrorKind
	}{
		{name: "transport error", readErr: errors.New("connection reset by peer"), wantKind: domain.KindInternal},
		{name: "document not found", readErr: erp.ErrDocumentNotFound, wantKind: domain.KindNotFoundInERP},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			conn := erpmemory.NewConnector(1000)
			sess, err := unreadableConnector{Connector: conn, err: tc.readErr}.Connect(context.Background(), tenantVinesa.Database)
			require.NoError(t, err)
			t.Cleanup(func() { _ = sess.Close(context.Background()) })

			logger := testLogger()
			creator := NewCreator(sess, salesperson.NewResolver(sess, logger), tenantVinesa, logger)

			ref, err := creator.Create(context.Background(), stagedOrder(11, detail("X1", "1", "1", "0")))
			require.Error(t, err)
			require.False(t, ref.Valid())
			require.Equal(t, tc.wantKind, domain.KindOf(err))
			require.Equal(t, 1, domain.CreatedDocEntryOf(err))
			require.Contains(t, domain.MessageOf(err), "document 1 created but read-back failed")
			require.Len(t, conn.Documents(tenantVinesa.Database), 1)
		})
	}
}

func TestCreator_UnknownSalespersonLeavesDocumentUnassigned(t *testing.T) {
	t.Parallel()

	conn := erpmemory.NewConnector(0)
	creator := newTestCreator(t, conn)

	order := stagedOrder(9, detail("X1", "1", "1", "0"))
	order.Salesperson = "Nobody"

	_, err := creator.Create(context.Background(), order)
	require.NoError(t, err)

	docs := conn.Documents(tenantVinesa.Database)
	require.Len(t, docs, 1)
	require.Nil(t, docs[0].SalesPersonCode)
}

func TestBuildCommentIsBounded(t *testing.T) {
	t.Parallel()

	order := stagedOrder(1, detail("X1", "1", "1", "0"))
	order.Notes = strings.Repeat("n", 400)

	comment := creationComment(order)
	require.Len(t, []rune(comment), maxCommentLength)
	require.True(t, strings.HasPrefix(comment, "ordersync order_id=1 "))
}
