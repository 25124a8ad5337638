/*
Package dynts packs time-series rows into size-bounded binary chunks that each
fit into a single item of a key-value store (DynamoDB, Bolt, SQLite).

We implement:

1. Columns, a named scalar type (U32, Float32 or Text) and its codec.

2. Chunks, one packed buffer of rows plus a parallel table of field sizes.

3. Hypertables, a directory of chunks sharing one schema, which rolls over to
a fresh chunk whenever the open one would grow past the store's item limit.

4. Stores, the key-value collaborator that persists a sealed chunk under
(chunk id, secondary index).

5. An optional row journal (package journal) that records every chunk write so
rows not yet flushed survive a restart.

# Technical Details

**Rows.**
Every row has exactly as many items as the schema has columns, in schema order.
Field i of a chunk (counting across rows) belongs to column i mod len(columns),
so a row boundary falls after every len(columns) entries of the sizes table.

**Secondary index.**
A chunk's secondary index is "{timestamp}__{dimension names joined by _}".
It is derived from the dimension column names, not their values, so every chunk
of a hypertable within one time bucket shares it. ValueIndexer keys chunks by
dimension values instead; that is a different key format.

**Size accounting.**
Size() is len(data) + len(sizes) + 9, and is kept at or below the limit
(LimitItemSize unless overridden). The check runs before each row is appended.

## Binary encoding

**Data**: encoded fields back to back, no separators.

**Field encoding**:
1. U32: 4 bytes, big-endian.
2. Float32: 4 bytes, big-endian IEEE 754.
3. Text: one byte per character (Latin-1), at most 255 bytes.

**Sizes**: one byte per field holding the encoded field length.

**Bolt record value** (see encrecord.go):
1. Flags (uvarint).
2. Format version (uvarint).
3. Sizes length (uvarint).
4. Data length (uvarint).
5. Sizes, then data.
6. xxhash64 of sizes and data (8 bytes, big-endian).
*/
package dynts
