package surreal

// SchemaSQL contains the graph store schema. Embeddings are not stored
// here; the vector index owns them. The graph side owns node metadata,
// relationship edges and the history ledger rows.
const SchemaSQL = `
    -- ==========================================================================
    -- MEMORY NODES
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS memory SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS content ON memory TYPE string;
    DEFINE FIELD IF NOT EXISTS metadata ON memory FLEXIBLE TYPE option<object>;
    DEFINE FIELD IF NOT EXISTS user_id ON memory TYPE string;
    DEFINE FIELD IF NOT EXISTS agent_id ON memory TYPE string;
    DEFINE FIELD IF NOT EXISTS importance ON memory TYPE float DEFAULT 0.5;
    DEFINE FIELD IF NOT EXISTS level ON memory TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON memory TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON memory TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS memory_scope ON memory FIELDS user_id, agent_id;

    -- ==========================================================================
    -- RELATIONSHIP EDGES
    -- ==========================================================================
    -- Single edge table with rel_type field; (in, out, rel_type) is NOT
    -- unique, multiple typed edges between the same pair are allowed.
    DEFINE TABLE IF NOT EXISTS relates TYPE RELATION IN memory OUT memory SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS rel_id ON relates TYPE string;
    DEFINE FIELD IF NOT EXISTS rel_type ON relates TYPE string;
    DEFINE FIELD IF NOT EXISTS weight ON relates TYPE float DEFAULT 0.8;
    DEFINE FIELD IF NOT EXISTS metadata ON relates FLEXIBLE TYPE option<object>;
    DEFINE FIELD IF NOT EXISTS created_at ON relates TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS relates_rel_id ON relates FIELDS rel_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS relates_type ON relates FIELDS rel_type;

    -- ==========================================================================
    -- HISTORY LEDGER
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS history SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS memory_id ON history TYPE string;
    DEFINE FIELD IF NOT EXISTS action ON history TYPE string;
    DEFINE FIELD IF NOT EXISTS actor ON history TYPE string;
    DEFINE FIELD IF NOT EXISTS ts ON history TYPE datetime;
    DEFINE FIELD IF NOT EXISTS diff ON history FLEXIBLE TYPE option<object>;

    DEFINE INDEX IF NOT EXISTS history_memory ON history FIELDS memory_id;
`
