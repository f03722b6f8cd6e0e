package sqlinline

const QMarkRowsRunning = `--sql 89780fe2-7170-4a67-b511-b86b38b1e08a
update model_rows
set status = 'running', updated_at = now()
where id = any($1::uuid[])
  and status not in ('done', 'error');
`

const QMarkVariantRowsRunning = `--sql cbf58cc6-0bd4-4395-addf-5dffa8a9dc56
update variant_rows
set status = 'running', updated_at = now()
where id = any($1::uuid[])
  and status not in ('done', 'error');
`

// QUpdateModelRowStatus recomputes the derived aggregate status from the
// children jobs: partial while any child is non-terminal, done when any child
// succeeded, error otherwise.
const QUpdateModelRowStatus = `--sql d21568c6-92c2-40e8-a0ab-f2e31162e1e1
update model_rows r
set status = derived.status, updated_at = now()
from (
    select
        case
            when count(*) filter (where j.status not in ('succeeded', 'failed')) > 0 then 'partial'
            when count(*) filter (where j.status = 'succeeded') > 0 then 'done'
            else 'error'
        end as status
    from generation_jobs j
    where j.row_id = $1
) derived
where r.id = $1;
`

const QUpdateVariantRowStatus = `--sql c0ec3a3a-838c-494e-85c6-bf5a5ac6813a
update variant_rows r
set status = derived.status, updated_at = now()
from (
    select
        case
            when count(*) filter (where j.status not in ('succeeded', 'failed')) > 0 then 'partial'
            when count(*) filter (where j.status = 'succeeded') > 0 then 'done'
            else 'error'
        end as status
    from generation_jobs j
    where j.variant_row_id = $1
) derived
where r.id = $1;
`
