package dynamo

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	dynts "github.com/linrium/dyn-ts"
)

type fakeAPI struct {
	mu     sync.Mutex
	tables map[string]map[[2]string]map[string]types.AttributeValue
	err    error
	gets   []*dynamodb.GetItemInput
}

func newFakeAPI(tables ...string) *fakeAPI {
	f := &fakeAPI{tables: make(map[string]map[[2]string]map[string]types.AttributeValue)}
	for _, t := range tables {
		f.tables[t] = make(map[[2]string]map[string]types.AttributeValue)
	}
	return f
}

func itemKey(item map[string]types.AttributeValue) [2]string {
	id := item[attrID].(*types.AttributeValueMemberS).Value
	ts := item[attrTimestamp].(*types.AttributeValueMemberS).Value
	return [2]string{id, ts}
}

func (f *fakeAPI) table(name *string) (map[[2]string]map[string]types.AttributeValue, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found")}
	}
	return t, nil
}

func (f *fakeAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, in)
	if f.err != nil {
		return nil, f.err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: t[itemKey(in.Key)]}, nil
}

func (f *fakeAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	t[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestStore_ItemLayout(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(DefaultTable)
	s := NewWithAPI(api, Config{})

	rec := dynts.Record{Sizes: []byte{5, 4}, Data: []byte("HANOI\x41\x8c\x00\x00")}
	if err := s.Put(ctx, "c1", "01012022__city_name", rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	item := api.tables[DefaultTable][[2]string{"c1", "01012022__city_name"}]
	if item == nil {
		t.Fatalf("item not stored under (id, timestamp)")
	}
	for _, name := range []string{attrID, attrTimestamp, attrSizes, attrData} {
		if _, ok := item[name]; !ok {
			t.Errorf("** item is missing attribute %q", name)
		}
	}
	if b := item[attrSizes].(*types.AttributeValueMemberB).Value; !reflect.DeepEqual(b, rec.Sizes) {
		t.Fatalf("sizes attribute = %x, wanted %x", b, rec.Sizes)
	}

	got, err := s.Get(ctx, "c1", "01012022__city_name")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("Get = %+v, wanted %+v", got, rec)
	}
}

func TestStore_Miss(t *testing.T) {
	s := NewWithAPI(newFakeAPI(DefaultTable), Config{})
	_, err := s.Get(context.Background(), "c1", "i")
	if !errors.Is(err, dynts.ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, wanted ErrNotFound", err)
	}
	_, err = s.GetManifest(context.Background(), "weather")
	if !errors.Is(err, dynts.ErrNotFound) {
		t.Fatalf("GetManifest(missing) err = %v, wanted ErrNotFound", err)
	}
}

func TestStore_MalformedItem(t *testing.T) {
	api := newFakeAPI(DefaultTable)
	api.tables[DefaultTable][[2]string{"c1", "i"}] = map[string]types.AttributeValue{
		attrID:        &types.AttributeValueMemberS{Value: "c1"},
		attrTimestamp: &types.AttributeValueMemberS{Value: "i"},
		attrSizes:     &types.AttributeValueMemberS{Value: "05"},
	}
	s := NewWithAPI(api, Config{})
	_, err := s.Get(context.Background(), "c1", "i")
	if !errors.Is(err, dynts.ErrMalformed) {
		t.Fatalf("Get err = %v, wanted ErrMalformed", err)
	}
}

func TestStore_ClientErrors(t *testing.T) {
	ctx := context.Background()

	s := NewWithAPI(newFakeAPI(), Config{Table: "missing"})
	err := s.Put(ctx, "c1", "i", dynts.Record{})
	var rnf *types.ResourceNotFoundException
	if !errors.As(err, &rnf) {
		t.Fatalf("Put err = %v, wanted ResourceNotFoundException", err)
	}

	api := newFakeAPI(DefaultTable)
	api.err = errors.New("throttled")
	s = NewWithAPI(api, Config{})
	if _, err := s.Get(ctx, "c1", "i"); err == nil || errors.Is(err, dynts.ErrNotFound) {
		t.Fatalf("Get err = %v, wanted client error", err)
	}
}

func TestStore_ConsistentRead(t *testing.T) {
	api := newFakeAPI(DefaultTable)
	s := NewWithAPI(api, Config{ConsistentRead: true})
	_, _ = s.Get(context.Background(), "c1", "i")
	if len(api.gets) != 1 || !aws.ToBool(api.gets[0].ConsistentRead) {
		t.Fatalf("GetItem was not a consistent read")
	}
}

func TestStore_Hypertable(t *testing.T) {
	ctx := context.Background()
	s := NewWithAPI(newFakeAPI(DefaultTable), Config{})

	columns := []dynts.Column{{Name: "city_name", Type: dynts.Text}, {Name: "temp_c", Type: dynts.Float32}}
	dims := columns[:1]
	ht, err := dynts.NewHypertable("weather", columns, dims, dynts.Options{Store: s})
	if err != nil {
		t.Fatal(err)
	}
	rows := []dynts.Row{
		{dynts.TextItem("HO CHI MINH"), dynts.Float32Item(27.5)},
		{dynts.TextItem("HANOI"), dynts.Float32Item(17.5)},
	}
	if err := ht.Append("01012022", rows); err != nil {
		t.Fatal(err)
	}
	ht.SealAll()
	if n, err := ht.Flush(ctx); err != nil || n != 1 {
		t.Fatalf("Flush = (%d, %v), wanted (1, nil)", n, err)
	}
	if err := ht.SaveManifest(ctx); err != nil {
		t.Fatal(err)
	}

	restored, err := dynts.OpenHypertable(ctx, s, "weather", dynts.Options{})
	if err != nil {
		t.Fatal(err)
	}
	refs := restored.AllChunks()
	if len(refs) != 1 || refs[0].Index != "01012022__city_name" {
		t.Fatalf("restored chunks = %+v", refs)
	}
	c, err := restored.Load(ctx, refs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Rows()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Fatalf("Rows = %v, wanted %v", got, rows)
	}
}
