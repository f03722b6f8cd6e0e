package sqlinline

const QInsertPromptJob = `--sql ad6f09ed-8ca2-4ad7-b087-8cb35da3d4f4
insert into prompt_generation_jobs(
    id, operation, reference_urls, target_url, existing_prompt,
    user_instructions, swap_mode, status, priority, retry_count, max_retries
)
values (
    gen_random_uuid(), $1, $2, $3, $4, $5, $6, 'queued', $7, 0, $8
)
returning id::text;
`

const QGetPromptJob = `--sql 729ab74a-f34c-40e7-9c98-115d50610247
select id::text, operation, reference_urls, target_url, existing_prompt,
       user_instructions, swap_mode, status, priority, retry_count,
       max_retries, coalesce(generated_prompt, ''), coalesce(error, ''),
       created_at, updated_at
from prompt_generation_jobs
where id = $1;
`

// QClaimPromptJobs atomically claims a batch, priority first and oldest-first
// on ties, skipping jobs whose backoff window has not elapsed.
const QClaimPromptJobs = `--sql 49c93e54-a202-408f-a2d0-1dd23daf23bf
with claimable as (
    select id
    from prompt_generation_jobs
    where status = 'queued'
      and (not_before is null or not_before <= now())
    order by priority desc, created_at asc
    for update skip locked
    limit $1
),
claimed as (
    update prompt_generation_jobs p
    set status = 'processing', updated_at = now()
    where p.id in (select id from claimable)
    returning p.*
)
select id::text, operation, reference_urls, target_url, existing_prompt,
       user_instructions, swap_mode, status, priority, retry_count,
       max_retries, coalesce(generated_prompt, ''), coalesce(error, ''),
       created_at, updated_at
from claimed;
`

const QCompletePromptJob = `--sql 02c0c478-aef7-45b9-a22f-feaa2c5384c3
update prompt_generation_jobs
set status = 'completed', generated_prompt = $2, error = null, updated_at = now()
where id = $1 and status = 'processing';
`

const QFailPromptJob = `--sql 8031359a-00c5-41e2-a7bf-3db0751fbf78
update prompt_generation_jobs
set status = 'failed', error = $2, updated_at = now()
where id = $1 and status not in ('completed', 'failed');
`

const QRetryPromptJob = `--sql 652f7e43-45d5-4abe-b319-59f2246abdf2
update prompt_generation_jobs
set status = 'queued',
    retry_count = retry_count + 1,
    error = $2,
    not_before = now() + ($3::bigint * interval '1 millisecond'),
    updated_at = now()
where id = $1 and status = 'processing';
`

const QCountQueuedPromptJobs = `--sql 9d2a4c6e-1f8b-4d3a-a5c7-0e6b8d2f4a17
select count(*) from prompt_generation_jobs where status = 'queued';
`

// Recovery statements run once per scheduler tick.

const QRequeueStuckPromptJobs = `--sql 825beb9e-f53b-4fa7-a522-73cec6b0c4ae
update prompt_generation_jobs
set status = 'queued', retry_count = retry_count + 1, not_before = null, updated_at = now()
where status = 'processing'
  and retry_count < max_retries
  and updated_at < now() - ($1::bigint * interval '1 millisecond')
returning id::text;
`

const QFailExhaustedStuckPromptJobs = `--sql 0f6de8b2-a09c-4a6b-ae4d-bb7dd459f40b
update prompt_generation_jobs
set status = 'failed', error = $2, updated_at = now()
where status = 'processing'
  and retry_count >= max_retries
  and updated_at < now() - ($1::bigint * interval '1 millisecond')
returning id::text;
`

const QBoostAgedPromptJobs = `--sql f8a3930a-15d4-4735-93c3-ea93ddf2ec81
update prompt_generation_jobs
set priority = greatest(priority, $2::int), updated_at = now()
where status = 'queued'
  and priority < $2::int
  and created_at < now() - ($1::bigint * interval '1 millisecond');
`

const QFailAncientPromptJobs = `--sql c5c55cf5-76a8-4bff-ad24-019283362ab0
update prompt_generation_jobs
set status = 'failed', error = $2, updated_at = now()
where status = 'queued'
  and created_at < now() - ($1::bigint * interval '1 millisecond')
returning id::text;
`
