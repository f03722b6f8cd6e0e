package sqlinline

// Schema statements are applied in dependency order at startup; every table
// and index is guarded with "if not exists" so re-running is harmless.

const QCreateModelRows = `--sql 3f1b0a6e-5f1e-4f6a-9f0a-2b7c8d1e4a01
create table if not exists model_rows (
    id          uuid primary key default gen_random_uuid(),
    team_id     uuid not null,
    status      text not null default 'pending',
    created_at  timestamptz not null default now(),
    updated_at  timestamptz not null default now()
);
`

const QCreateVariantRows = `--sql 9c2d4e8a-1b3f-4c5d-8e7f-6a9b0c1d2e03
create table if not exists variant_rows (
    id          uuid primary key default gen_random_uuid(),
    team_id     uuid not null,
    status      text not null default 'pending',
    created_at  timestamptz not null default now(),
    updated_at  timestamptz not null default now()
);
`

const QCreatePromptGenerationJobs = `--sql 7a5e2c1b-9d4f-4a6e-b8c0-3f2e1d0a9b05
create table if not exists prompt_generation_jobs (
    id                uuid primary key default gen_random_uuid(),
    operation         text not null,
    reference_urls    text[] not null default '{}',
    target_url        text not null default '',
    existing_prompt   text not null default '',
    user_instructions text not null default '',
    swap_mode         text not null default '',
    status            text not null default 'queued',
    priority          int not null default 0,
    retry_count       int not null default 0,
    max_retries       int not null default 3,
    generated_prompt  text,
    error             text,
    not_before        timestamptz,
    created_at        timestamptz not null default now(),
    updated_at        timestamptz not null default now()
);
`

const QCreatePromptJobClaimIndex = `--sql d0e8f2a6-3c1b-4e5d-9a7f-8b2c4d6e1a0d
create index if not exists prompt_generation_jobs_claim_idx
    on prompt_generation_jobs (priority desc, created_at asc)
    where status = 'queued';
`

const QCreateGenerationJobs = `--sql 4d8b6f2e-0a1c-4e9d-a7b5-8c3f2d1e0a07
create table if not exists generation_jobs (
    id                  uuid primary key default gen_random_uuid(),
    row_id              uuid references model_rows(id) on delete cascade,
    variant_row_id      uuid references variant_rows(id) on delete cascade,
    team_id             uuid not null,
    status              text not null default 'queued',
    request_payload     jsonb not null default '{}'::jsonb,
    provider_request_id text,
    prompt_job_id       uuid references prompt_generation_jobs(id) on delete set null,
    prompt_status       text,
    error               text,
    created_at          timestamptz not null default now(),
    updated_at          timestamptz not null default now(),
    check (row_id is not null or variant_row_id is not null)
);
`

const QCreateJobStatusIndex = `--sql b5a3c7e1-2d9f-4b6a-8e0c-7f1d3a5b9c0f
create index if not exists generation_jobs_status_created_idx
    on generation_jobs (status, created_at asc);
`

const QCreateJobPromptIndex = `--sql e2c6a0d4-8f3b-4a1e-b9d7-5c0e2f4a6b11
create index if not exists generation_jobs_prompt_job_idx
    on generation_jobs (prompt_job_id)
    where prompt_job_id is not null;
`

const QCreateGeneratedImages = `--sql 1e9c7a3d-5b2f-4d8e-9a0c-4f6e2b1d8c09
create table if not exists generated_images (
    id            uuid primary key default gen_random_uuid(),
    job_id        uuid not null unique references generation_jobs(id) on delete cascade,
    row_id        uuid not null references model_rows(id) on delete cascade,
    storage_key   text not null,
    thumbnail_key text not null default '',
    source_url    text,
    width         int not null default 0,
    height        int not null default 0,
    created_at    timestamptz not null default now()
);
`

const QCreateGeneratedImagesRowIndex = `--sql 0f7d3b9a-6e2c-4d8f-a1b5-9c4e6a0d2f13
create index if not exists generated_images_row_idx
    on generated_images (row_id);
`

const QCreateVariantRowImages = `--sql 6b4f1d9e-8c2a-4b7d-a3e5-0d9f8c2b1a0b
create table if not exists variant_row_images (
    id             uuid primary key default gen_random_uuid(),
    job_id         uuid not null unique references generation_jobs(id) on delete cascade,
    variant_row_id uuid not null references variant_rows(id) on delete cascade,
    storage_key    text not null,
    thumbnail_key  text not null default '',
    source_url     text,
    width          int not null default 0,
    height         int not null default 0,
    is_generated   boolean not null default false,
    created_at     timestamptz not null default now()
);
`

const QCreateVariantImagesVariantIndex = `--sql 8a1e5c3f-0b7d-4f2a-9e6c-3d8b0a4f6c15
create index if not exists variant_row_images_variant_idx
    on variant_row_images (variant_row_id);
`

// Schema lists every DDL statement in dependency order.
var Schema = []string{
	QCreateModelRows,
	QCreateVariantRows,
	QCreatePromptGenerationJobs,
	QCreatePromptJobClaimIndex,
	QCreateGenerationJobs,
	QCreateJobStatusIndex,
	QCreateJobPromptIndex,
	QCreateGeneratedImages,
	QCreateGeneratedImagesRowIndex,
	QCreateVariantRowImages,
	QCreateVariantImagesVariantIndex,
}
