package sqlinline

// QClaimJobsWithCapacity is the sole place generation concurrency is enforced.
// In one statement it counts non-terminal jobs inside the active window, takes
// up to the remaining capacity of queued jobs oldest-first, and flips them to
// 'submitted' (provider_request_id still empty). SKIP LOCKED keeps concurrent
// dispatchers from over-claiming. $1 = max concurrency, $2 = active window ms.
const QClaimJobsWithCapacity = `--sql 9cc4ad6e-8900-4247-9154-f0a0042a46d5
with active as (
    select count(*) as n
    from generation_jobs
    where status in ('submitted', 'running', 'saving')
      and created_at > now() - ($2::bigint * interval '1 millisecond')
),
capacity as (
    select greatest($1::int - (select n from active), 0) as remaining
),
claimable as (
    select id
    from generation_jobs
    where status = 'queued'
    order by created_at asc
    for update skip locked
    limit (select remaining from capacity)
),
claimed as (
    update generation_jobs j
    set status = 'submitted', updated_at = now()
    where j.id in (select id from claimable)
    returning j.*
)
select id::text, coalesce(row_id::text, ''), coalesce(variant_row_id::text, ''),
       team_id::text, status, request_payload,
       coalesce(provider_request_id, ''), coalesce(prompt_job_id::text, ''),
       coalesce(prompt_status, ''), coalesce(error, ''), created_at, updated_at
from claimed;
`

const QInsertJob = `--sql bbd4a56e-140f-4f52-85a6-bb3da3de5193
insert into generation_jobs(
    id, row_id, variant_row_id, team_id, status, request_payload,
    prompt_job_id, prompt_status
)
values (
    gen_random_uuid(), $1, $2, $3, 'queued', $4::jsonb,
    nullif($5, '')::uuid,
    case when nullif($5, '') is null then null else 'generating' end
)
returning id::text;
`

const QGetJob = `--sql 3ef6df71-798f-46dd-a1e4-bb5b4427eb9d
select id::text, coalesce(row_id::text, ''), coalesce(variant_row_id::text, ''),
       team_id::text, status, request_payload,
       coalesce(provider_request_id, ''), coalesce(prompt_job_id::text, ''),
       coalesce(prompt_status, ''), coalesce(error, ''), created_at, updated_at
from generation_jobs
where id = $1;
`

const QSetJobSubmitted = `--sql b3b0bacb-ebcb-41ba-9f37-5e37942a5583
update generation_jobs
set provider_request_id = $2, status = 'submitted', updated_at = now()
where id = $1;
`

const QSetJobRunning = `--sql 2c9e7755-7dcb-44cc-bddf-41ed895de7f4
update generation_jobs
set status = 'running', updated_at = now()
where id = $1 and status = 'submitted';
`

const QRequeueJob = `--sql 2de315bf-8c4e-4f2e-a175-32a7756b769c
update generation_jobs
set status = 'queued', updated_at = now()
where id = $1 and status not in ('succeeded', 'failed');
`

const QFailJob = `--sql c1248a73-b2e9-4ca6-8294-71ded8a1a614
update generation_jobs
set status = 'failed', error = $2, updated_at = now()
where id = $1 and status not in ('succeeded', 'failed');
`

// QBeginSaving is the finalize CAS. Zero affected rows means another poll
// already claimed finalization and the caller must treat the job as
// already succeeded.
const QBeginSaving = `--sql 17b30aef-1d7a-43ca-a824-c4c7f273695b
update generation_jobs
set status = 'saving', updated_at = now()
where id = $1 and status in ('running', 'submitted');
`

const QSetJobSucceeded = `--sql 274c5464-252b-4f03-bd06-d613c83a9905
update generation_jobs
set status = 'succeeded', error = null, updated_at = now()
where id = $1;
`

// QSpliceJobPrompt writes the generated prompt text into the stored request
// payload and resolves the dependency link.
const QSpliceJobPrompt = `--sql 5b026455-a37c-4f82-a5ac-a5e316072f29
update generation_jobs
set request_payload = jsonb_set(request_payload, '{prompt}', to_jsonb($2::text), true),
    prompt_status = 'completed',
    updated_at = now()
where id = $1;
`

const QQueuePosition = `--sql 74408792-a6f0-446f-bd06-21bdd8e8355a
select count(*)
from generation_jobs
where team_id = $1
  and status in ('queued', 'submitted')
  and created_at < $2;
`

const QListUnfinishedJobIDs = `--sql 2c97b83e-0b9f-4662-8ffc-60cb910ed76f
select id::text
from generation_jobs
where status in ('queued', 'submitted', 'running', 'saving')
order by created_at asc
limit $1;
`

// Cleanup statements. All best-effort; the dispatcher swallows their errors.

const QFailJobsMissingProviderID = `--sql c97858ef-a0a3-4c67-af84-af6a3e415f84
update generation_jobs
set status = 'failed', error = $2, updated_at = now()
where status in ('running', 'saving')
  and (provider_request_id is null or provider_request_id = '')
  and created_at < now() - ($1::bigint * interval '1 millisecond');
`

const QFailStaleJobs = `--sql 0389658c-5951-4531-a7bc-7d7cda4127fa
update generation_jobs
set status = 'failed', error = $2, updated_at = now()
where status in ('queued', 'submitted', 'running', 'saving')
  and created_at < now() - ($1::bigint * interval '1 millisecond');
`

// QFailStuckQueuedJobs targets jobs the dispatcher never picked up. Jobs it
// requeued to wait for their prompt carry prompt_status = 'generating' and are
// spared; the prompt queue's own recovery decides their fate.
const QFailStuckQueuedJobs = `--sql fcbfcc56-26ab-4290-8960-acc5ea657f3a
update generation_jobs
set status = 'failed', error = $2, updated_at = now()
where status = 'queued'
  and (provider_request_id is null or provider_request_id = '')
  and prompt_status is distinct from 'generating'
  and created_at < now() - ($1::bigint * interval '1 millisecond');
`

// Dependent-job propagation when a prompt job finishes.

const QCompleteDependentJobs = `--sql 8b2e05db-b335-45cd-bbb7-6e26c8e9ad6f
update generation_jobs
set request_payload = jsonb_set(request_payload, '{prompt}', to_jsonb($2::text), true),
    prompt_status = 'completed',
    updated_at = now()
where prompt_job_id = $1
  and status in ('queued', 'submitted');
`

const QFailDependentJobs = `--sql 657c16bb-5f17-4393-b90e-d4984c3cd728
update generation_jobs
set status = 'failed', prompt_status = 'failed', error = $2, updated_at = now()
where prompt_job_id = $1
  and status in ('queued', 'submitted');
`
