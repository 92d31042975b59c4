package db

// SchemaSQL defines the ingestion table. Every statement is idempotent so
// InitSchema runs on each start.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS ingestion SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_url ON ingestion TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON ingestion TYPE string
        ASSERT $value IN ["pending", "scraped", "parsing", "parsed", "failed", "parse-failed"];
    DEFINE FIELD IF NOT EXISTS content ON ingestion TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS page_meta ON ingestion TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS extracted_data ON ingestion TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error_message ON ingestion TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON ingestion TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON ingestion TYPE datetime DEFAULT time::now();

    -- Exact-URL dedup for the creation call
    DEFINE INDEX IF NOT EXISTS ingestion_source_url ON ingestion FIELDS source_url UNIQUE;
    DEFINE INDEX IF NOT EXISTS ingestion_status ON ingestion FIELDS status;
`
