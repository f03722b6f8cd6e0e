package sqlinline

const QHasGeneratedImageForJob = `--sql e8550d51-9a5f-4043-9a3d-1ee701b31f61
select exists(
    select 1 from generated_images where job_id = $1
);
`

const QHasVariantImageForJob = `--sql 455da526-8db4-40a9-b897-49496d10cd68
select exists(
    select 1 from variant_row_images where job_id = $1
);
`

// QSiblingImageSources lists the remote source URLs of sibling images for the
// same model row, used by the approximate filename-prefix duplicate check.
const QSiblingImageSources = `--sql b118a30b-a505-464f-af9c-d07252a45a44
select coalesce(source_url, '')
from generated_images
where row_id = $1;
`

const QInsertGeneratedImage = `--sql 8e6a0e8e-7bae-43f1-9a38-ba5e1b1466d6
insert into generated_images(
    id, job_id, row_id, storage_key, thumbnail_key, source_url, width, height
)
values (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
on conflict (job_id) do nothing
returning id::text;
`

const QInsertVariantRowImage = `--sql fac949d3-35cb-41e1-9554-877aed0d77a0
insert into variant_row_images(
    id, job_id, variant_row_id, storage_key, thumbnail_key, source_url,
    width, height, is_generated
)
values (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, true)
on conflict (job_id) do nothing
returning id::text;
`

// QVariantImageIsGenerated re-validates the is_generated flag after insert.
const QVariantImageIsGenerated = `--sql 68c6f599-0bd5-4663-9113-ba3504e28c9f
select is_generated from variant_row_images where id = $1;
`
